package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Heimdall/internal/domain/models"
	domrepo "Heimdall/internal/domain/repository"
	applogger "Heimdall/pkg/logger"
)

const analysisColumns = "(ts, txn_id, idx, txn_time, amount, anomaly_score, recommendation, " +
	"amount_anomaly, feature_distance, velocity_anomaly, time_anomaly, explanation, label)"

const rowPlaceholders = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

// AnalysisSchema returns the DDL for the analysis archive.
func AnalysisSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts               DateTime64(3),
    txn_id           String,
    idx              Int64,
    txn_time         Float64,
    amount           Float64,
    anomaly_score    Float64,
    recommendation   LowCardinality(String),
    amount_anomaly   Float64,
    feature_distance Float64,
    velocity_anomaly Float64,
    time_anomaly     Float64,
    explanation      String,
    label            Nullable(Int8)
) ENGINE = MergeTree
ORDER BY (recommendation, ts)
TTL toDateTime(ts) + INTERVAL 30 DAY`, database, table),
	}
}

// ClickHouseStorage archives analysis results.
type ClickHouseStorage struct {
	db        *sql.DB
	table     string
	chunkSize int
	now       func() time.Time
	l         *applogger.Logger
}

// NewClickHouseStorage writes into table, a fully qualified name such as heimdall.analysis.
func NewClickHouseStorage(db *sql.DB, table string, l *applogger.Logger) *ClickHouseStorage {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseStorage{db: db, table: table, chunkSize: 2000, now: time.Now, l: l}
}

func (s *ClickHouseStorage) Store(ctx context.Context, r *models.AnalysisResult) error {
	return s.StoreBatch(ctx, []*models.AnalysisResult{r})
}

// StoreBatch inserts results with multi-row VALUES, chunked.
func (s *ClickHouseStorage) StoreBatch(ctx context.Context, rs []*models.AnalysisResult) error {
	ts := s.now()
	for start := 0; start < len(rs); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(rs) {
			end = len(rs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*13)
		for _, r := range rs[start:end] {
			if r == nil {
				continue
			}
			values = append(values, rowPlaceholders)
			args = append(args, rowArgs(ts, r)...)
		}
		if len(values) == 0 {
			continue
		}

		q := fmt.Sprintf("INSERT INTO %s %s VALUES %s", s.table, analysisColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert failed",
				applogger.String("table", s.table),
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return fmt.Errorf("insert analysis: %w", err)
		}
	}
	return nil
}

func rowArgs(ts time.Time, r *models.AnalysisResult) []interface{} {
	var label interface{}
	if r.Transaction.Class != nil {
		label = int8(*r.Transaction.Class)
	}
	return []interface{}{
		ts,
		r.Transaction.ID,
		r.Transaction.Idx,
		r.Transaction.Time,
		r.Transaction.Amount,
		r.AnomalyScore,
		string(r.Recommendation),
		r.Signals.AmountAnomaly,
		r.Signals.FeatureDistance,
		r.Signals.VelocityAnomaly,
		r.Signals.TimeAnomaly,
		r.Explanation,
		label,
	}
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseStorage) Close() error {
	return nil
}

var _ domrepo.Storage = (*ClickHouseStorage)(nil)
