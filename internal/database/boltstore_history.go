// internal/database/boltstore_history.go - event log, metric readings, rollups and purging
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// History keys are "<monitorID>/<20-digit unix nanos>/<id>" so a cursor seek on
// the monitor prefix walks that monitor's entries in time order.
func historyKey(monitorID string, t time.Time, id string) string {
	return fmt.Sprintf("%s/%020d/%s", monitorID, t.UnixNano(), id)
}

func historySeek(monitorID string, t time.Time) []byte {
	if t.Before(time.Unix(0, 0)) {
		t = time.Unix(0, 0)
	}
	return []byte(fmt.Sprintf("%s/%020d", monitorID, t.UnixNano()))
}

func historyTime(key []byte) (time.Time, bool) {
	parts := strings.SplitN(string(key), "/", 3)
	if len(parts) < 3 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

func rollupKey(monitorID string, g Granularity, periodStart time.Time) string {
	if periodStart.Before(time.Unix(0, 0)) {
		periodStart = time.Unix(0, 0)
	}
	return fmt.Sprintf("%s/%s/%020d", monitorID, g, periodStart.Unix())
}

// ---- events ----

func (s *BoltStore) AppendEvent(ctx context.Context, event *MonitorEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(EventsBucket), historyKey(event.MonitorID, event.CreatedAt, event.ID), event)
	})
}

// GetEvents returns the monitor's events with from <= CreatedAt <= to, oldest first.
func (s *BoltStore) GetEvents(ctx context.Context, monitorID string, from, to time.Time) ([]MonitorEvent, error) {
	var events []MonitorEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(EventsBucket).Cursor()
		prefix := []byte(monitorID + "/")

		for k, v := c.Seek(historySeek(monitorID, from)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ts, ok := historyTime(k); ok && ts.After(to) {
				break
			}
			var event MonitorEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			events = append(events, event)
		}
		return nil
	})

	return events, err
}

func (s *BoltStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := s.deleteHistoryBefore(EventsBucket, "", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return deleted, nil
}

// ---- metric readings ----

func (s *BoltStore) AppendReading(ctx context.Context, reading *MetricReading) error {
	if reading.ID == "" {
		reading.ID = uuid.New().String()
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(ReadingsBucket), historyKey(reading.MonitorID, reading.CreatedAt, reading.ID), reading)
	})
}

// RecentReadings returns up to limit readings for the monitor, newest first.
func (s *BoltStore) RecentReadings(ctx context.Context, monitorID string, limit int) ([]MetricReading, error) {
	var readings []MetricReading
	if limit <= 0 {
		return readings, nil
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(ReadingsBucket).Cursor()
		prefix := []byte(monitorID + "/")

		// '~' sorts after every digit, so the seek lands just past this monitor.
		k, v := c.Seek([]byte(monitorID + "/~"))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(readings) < limit; k, v = c.Prev() {
			var reading MetricReading
			if err := json.Unmarshal(v, &reading); err != nil {
				continue
			}
			readings = append(readings, reading)
		}
		return nil
	})

	return readings, err
}

// ReadingsSince returns the monitor's readings with CreatedAt >= since, oldest first.
func (s *BoltStore) ReadingsSince(ctx context.Context, monitorID string, since time.Time) ([]MetricReading, error) {
	var readings []MetricReading

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(ReadingsBucket).Cursor()
		prefix := []byte(monitorID + "/")

		for k, v := c.Seek(historySeek(monitorID, since)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var reading MetricReading
			if err := json.Unmarshal(v, &reading); err != nil {
				continue
			}
			readings = append(readings, reading)
		}
		return nil
	})

	return readings, err
}

func (s *BoltStore) DeleteReadingsBefore(ctx context.Context, monitorID string, cutoff time.Time) (int, error) {
	deleted, err := s.deleteHistoryBefore(ReadingsBucket, monitorID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}
	return deleted, nil
}

// deleteHistoryBefore removes history entries older than cutoff. With a
// monitorID only that monitor's prefix is walked; otherwise the whole bucket.
func (s *BoltStore) deleteHistoryBefore(bucket []byte, monitorID string, cutoff time.Time) (int, error) {
	deletedCount := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		c := b.Cursor()
		var keysToDelete [][]byte

		if monitorID != "" {
			prefix := []byte(monitorID + "/")
			limit := historySeek(monitorID, cutoff)
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}
		} else {
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if ts, ok := historyTime(k); ok && ts.Before(cutoff) {
					keysToDelete = append(keysToDelete, copyBytes(k))
				}
			}
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return err
			}
			deletedCount++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deletedCount > 0 {
		logrus.WithFields(logrus.Fields{
			"bucket":        string(bucket),
			"monitor_id":    monitorID,
			"deleted_count": deletedCount,
			"cutoff_time":   cutoff,
		}).Debug("Deleted history entries")
	}
	return deletedCount, nil
}

// ---- rollups ----

func (s *BoltStore) UpsertRollup(ctx context.Context, rollup *MonitorRollup) error {
	if rollup.UpdatedAt.IsZero() {
		rollup.UpdatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(RollupsBucket), rollupKey(rollup.MonitorID, rollup.Granularity, rollup.PeriodStart), rollup)
	})
}

func (s *BoltStore) GetRollups(ctx context.Context, monitorID string, granularity Granularity, since time.Time) ([]MonitorRollup, error) {
	var rollups []MonitorRollup

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(RollupsBucket).Cursor()
		prefix := []byte(fmt.Sprintf("%s/%s/", monitorID, granularity))

		for k, v := c.Seek([]byte(rollupKey(monitorID, granularity, since))); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rollup MonitorRollup
			if err := json.Unmarshal(v, &rollup); err != nil {
				continue
			}
			rollups = append(rollups, rollup)
		}
		return nil
	})

	return rollups, err
}

func (s *BoltStore) DeleteRollupsBefore(ctx context.Context, granularity Granularity, cutoff time.Time) (int, error) {
	deletedCount := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RollupsBucket)
		var keysToDelete [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var rollup MonitorRollup
			if err := json.Unmarshal(v, &rollup); err != nil {
				return nil
			}
			if rollup.Granularity == granularity && rollup.PeriodStart.Before(cutoff) {
				keysToDelete = append(keysToDelete, copyBytes(k))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return err
			}
			deletedCount++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old rollups: %w", err)
	}
	return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalServices = tx.Bucket(ServicesBucket).Stats().KeyN
		stats.TotalMonitors = tx.Bucket(MonitorsBucket).Stats().KeyN
		stats.TotalAlerts = tx.Bucket(AlertsBucket).Stats().KeyN
		stats.TotalReadings = tx.Bucket(ReadingsBucket).Stats().KeyN
		stats.TotalRollups = tx.Bucket(RollupsBucket).Stats().KeyN
		stats.TotalPeers = tx.Bucket(PeersBucket).Stats().KeyN

		events := tx.Bucket(EventsBucket)
		stats.TotalEvents = events.Stats().KeyN

		// Keys are grouped by monitor, so the time range needs a full walk.
		return events.ForEach(func(k, v []byte) error {
			ts, ok := historyTime(k)
			if !ok {
				return nil
			}
			if stats.OldestEvent.IsZero() || ts.Before(stats.OldestEvent) {
				stats.OldestEvent = ts
			}
			if ts.After(stats.NewestEvent) {
				stats.NewestEvent = ts
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, copyBytes(k))
	}
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func collectKeys(b *bbolt.Bucket, match func(k, v []byte) bool) [][]byte {
	var keys [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if match(k, v) {
			keys = append(keys, copyBytes(k))
		}
	}
	return keys
}

func deleteWhere(b *bbolt.Bucket, match func(v []byte) bool) error {
	for _, key := range collectKeys(b, func(_, v []byte) bool { return match(v) }) {
		if err := b.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
