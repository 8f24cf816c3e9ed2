package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scribadev/scriba"
)

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print version information as JSON."`
}

func (c *VersionCmd) Run() error {
	info := scriba.GetVersion()
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Println(info.String())
	return nil
}
