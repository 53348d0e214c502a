package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// EpisodeMeta locates an episode within its series for season-level
// decisions.
type EpisodeMeta struct {
	SeriesID     int64
	SeasonNumber int
}

// GetEpisodeMeta returns the series/season coordinates of an episode.
func (db *DB) GetEpisodeMeta(ctx context.Context, episodeID int64) (EpisodeMeta, error) {
	var m EpisodeMeta
	err := db.pool.QueryRow(ctx,
		`SELECT series_id, season_number FROM episodes WHERE id = $1`,
		episodeID,
	).Scan(&m.SeriesID, &m.SeasonNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EpisodeMeta{}, fmt.Errorf("storage: episode %d: %w", episodeID, ErrNotFound)
		}
		return EpisodeMeta{}, fmt.Errorf("storage: get episode meta: %w", err)
	}
	return m, nil
}

// GetSeasonStatistics summarizes one season for the batching decision.
// NextAiring is the earliest future air date in the season, if any.
func (db *DB) GetSeasonStatistics(ctx context.Context, connectorID, seriesID int64, seasonNumber int, now time.Time) (model.SeasonStatistics, error) {
	stats := model.SeasonStatistics{SeasonNumber: seasonNumber}
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE has_file),
		        MIN(air_date) FILTER (WHERE air_date > $4)
		 FROM episodes
		 WHERE connector_id = $1 AND series_id = $2 AND season_number = $3`,
		connectorID, seriesID, seasonNumber, now,
	).Scan(&stats.TotalEpisodes, &stats.DownloadedEpisodes, &stats.NextAiring)
	if err != nil {
		return model.SeasonStatistics{}, fmt.Errorf("storage: season statistics: %w", err)
	}
	return stats, nil
}

// RequeueSearching returns a claimed entry to queued and restores its
// queue row. Used when a dispatch was declined by admission control, so
// the entry keeps its place without burning an attempt. Also accepts
// entries still in queued whose queue row was consumed by a dequeue.
func (db *DB) RequeueSearching(ctx context.Context, id int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin requeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var connectorID int64
	var priority int
	err = tx.QueryRow(ctx,
		`UPDATE search_registry SET state = 'queued', updated_at = now()
		 WHERE id = $1 AND state IN ('searching', 'queued')
		 RETURNING connector_id, priority`,
		id,
	).Scan(&connectorID, &priority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: registry entry %d not requeueable: %w", id, ErrNotFound)
		}
		return fmt.Errorf("storage: requeue searching: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO request_queue (search_registry_id, connector_id, priority, scheduled_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (search_registry_id) DO NOTHING`,
		id, connectorID, priority,
	); err != nil {
		return fmt.Errorf("storage: reinsert queue row: %w", err)
	}

	return tx.Commit(ctx)
}
