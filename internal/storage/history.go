package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// SaveMaterialChange appends one record to the history. The table is the
// audit trail of every change the machine performed; records are never
// updated afterwards.
func (p *PostgresClient) SaveMaterialChange(ctx context.Context, rec *MaterialChangeRecord) error {
	timingsJSON, err := json.Marshal(rec.StepTimings)
	if err != nil {
		return fmt.Errorf("failed to marshal step timings: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO material_changes
			(id, layer, material, trigger_source, success, failure_reason, step_timings, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Layer, rec.Material, rec.Trigger, rec.Success, rec.FailureReason,
		timingsJSON, rec.StartedAt, rec.FinishedAt)

	if err != nil {
		return fmt.Errorf("failed to insert material change: %w", err)
	}
	return nil
}

// ListMaterialChanges returns the most recent changes, newest first.
func (p *PostgresClient) ListMaterialChanges(ctx context.Context, limit int) ([]MaterialChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, layer, material, trigger_source, success, failure_reason, step_timings, started_at, finished_at
		FROM material_changes
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query material changes: %w", err)
	}
	defer rows.Close()

	records := make([]MaterialChangeRecord, 0)
	for rows.Next() {
		var rec MaterialChangeRecord
		var timingsJSON []byte

		err := rows.Scan(&rec.ID, &rec.Layer, &rec.Material, &rec.Trigger, &rec.Success,
			&rec.FailureReason, &timingsJSON, &rec.StartedAt, &rec.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material change: %w", err)
		}

		if err := json.Unmarshal(timingsJSON, &rec.StepTimings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step timings: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
