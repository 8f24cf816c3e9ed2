package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func metadataTable(target MetadataTarget) (string, error) {
	switch target {
	case MetadataTargetTag:
		return "tag_metadata", nil
	case MetadataTargetCustomField:
		return "custom_field_metadata", nil
	default:
		return "", fmt.Errorf("invalid metadata target: %s", target)
	}
}

func (s *Store) upsertMetadataQuery(table string) string {
	switch s.dialect {
	case "postgres":
		return fmt.Sprintf(`INSERT INTO %s
            (target_id, name, description, category, exclude_from_analysis, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (target_id) DO UPDATE SET
                name = $2, description = $3, category = $4,
                exclude_from_analysis = $5, updated_at = $6`, table)
	case "mysql":
		return fmt.Sprintf(`INSERT INTO %s
            (target_id, name, description, category, exclude_from_analysis, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE
                name = VALUES(name), description = VALUES(description),
                category = VALUES(category),
                exclude_from_analysis = VALUES(exclude_from_analysis),
                updated_at = VALUES(updated_at)`, table)
	default:
		return fmt.Sprintf(`INSERT INTO %s
            (target_id, name, description, category, exclude_from_analysis, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT (target_id) DO UPDATE SET
                name = excluded.name, description = excluded.description,
                category = excluded.category,
                exclude_from_analysis = excluded.exclude_from_analysis,
                updated_at = excluded.updated_at`, table)
	}
}

// UpsertAnnotation stores or replaces the enrichment record for a tag or
// custom field. Annotations live here rather than in the DMS because the DMS
// schema has no room for descriptions or analysis exclusions.
func (s *Store) UpsertAnnotation(ctx context.Context, target MetadataTarget, ann *MetadataAnnotation) error {
	table, err := metadataTable(target)
	if err != nil {
		return err
	}
	ann.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, s.upsertMetadataQuery(table),
		ann.TargetID, ann.Name, ann.Description, ann.Category,
		ann.ExcludeFromAnalysis, ann.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s annotation: %w", target, err)
	}
	return nil
}

// GetAnnotation fetches the annotation for one target id. Returns nil when no
// annotation exists; absence is an ordinary state, not an error.
func (s *Store) GetAnnotation(ctx context.Context, target MetadataTarget, targetID int) (*MetadataAnnotation, error) {
	table, err := metadataTable(target)
	if err != nil {
		return nil, err
	}

	query := s.rebind(fmt.Sprintf(`SELECT target_id, name, description, category,
        exclude_from_analysis, updated_at FROM %s WHERE target_id = ?`, table))

	ann, err := scanAnnotation(s.db.QueryRowContext(ctx, query, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ann, err
}

// ListAnnotations returns every annotation for the target type, keyed by id.
func (s *Store) ListAnnotations(ctx context.Context, target MetadataTarget) (map[int]*MetadataAnnotation, error) {
	table, err := metadataTable(target)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT target_id, name,
        description, category, exclude_from_analysis, updated_at FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s annotations: %w", target, err)
	}
	defer rows.Close()

	annotations := make(map[int]*MetadataAnnotation)
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations[ann.TargetID] = ann
	}
	return annotations, rows.Err()
}

// DeleteAnnotation removes the annotation for a target id, if any.
func (s *Store) DeleteAnnotation(ctx context.Context, target MetadataTarget, targetID int) error {
	table, err := metadataTable(target)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE target_id = ?`, table)), targetID)
	if err != nil {
		return fmt.Errorf("failed to delete %s annotation: %w", target, err)
	}
	return nil
}

func scanAnnotation(row rowScanner) (*MetadataAnnotation, error) {
	var ann MetadataAnnotation
	var description, category sql.NullString

	err := row.Scan(&ann.TargetID, &ann.Name, &description, &category,
		&ann.ExcludeFromAnalysis, &ann.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ann.Description = description.String
	ann.Category = category.String
	return &ann, nil
}
