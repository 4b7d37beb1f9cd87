package txstream

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"Heimdall/internal/domain/models"
	drepo "Heimdall/internal/domain/repository"
	applogger "Heimdall/pkg/logger"
)

// CSVReplay replays a creditcard-style CSV (Time,V1..V28,Amount,Class) as a stream.
// Rows are numbered from 0 in file order; a reconnect resumes after the last emitted row.
type CSVReplay struct {
	path     string
	interval time.Duration
	l        *applogger.Logger

	mu        sync.Mutex
	file      *os.File
	next      int64
	connected bool
}

func NewCSVReplay(path string, interval time.Duration, l *applogger.Logger) *CSVReplay {
	if l == nil {
		l = applogger.Nop()
	}
	return &CSVReplay{path: path, interval: interval, l: l.Component("txstream_csv")}
}

func (r *CSVReplay) Connect(context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	r.mu.Lock()
	r.file = f
	r.connected = true
	r.mu.Unlock()
	r.l.Info("replay opened", applogger.String("path", r.path), applogger.Int64("resume_at", r.position()))
	return nil
}

func (r *CSVReplay) position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Read emits one transaction per row and closes both channels at end of file.
func (r *CSVReplay) Read(ctx context.Context) (<-chan *models.Transaction, <-chan error) {
	txs := make(chan *models.Transaction, 256)
	errs := make(chan error, 1)

	r.mu.Lock()
	f := r.file
	start := r.next
	r.mu.Unlock()

	go func() {
		defer close(txs)
		defer close(errs)
		if f == nil {
			errs <- errors.New("replay: not connected")
			return
		}

		cr := csv.NewReader(f)
		cr.FieldsPerRecord = -1
		header, err := cr.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				errs <- fmt.Errorf("replay header: %w", err)
			}
			return
		}
		cols := indexColumns(header)

		for idx := int64(0); ; idx++ {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				r.l.Info("replay finished", applogger.Int64("rows", idx))
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					r.l.Warn("skipping unparsable row", applogger.Int64("idx", idx), applogger.Error(err))
					continue
				}
				errs <- fmt.Errorf("replay read: %w", err)
				return
			}
			if idx < start {
				continue
			}
			t, err := cols.transaction(idx, rec)
			if err != nil {
				r.l.Warn("skipping row", applogger.Int64("idx", idx), applogger.Error(err))
				r.advance(idx + 1)
				continue
			}
			select {
			case txs <- t:
				r.advance(idx + 1)
			case <-ctx.Done():
				return
			}
			if r.interval > 0 {
				select {
				case <-time.After(r.interval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return txs, errs
}

func (r *CSVReplay) advance(next int64) {
	r.mu.Lock()
	r.next = next
	r.mu.Unlock()
}

func (r *CSVReplay) Reconnect(ctx context.Context) error {
	_ = r.Close()
	return r.Connect(ctx)
}

func (r *CSVReplay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *CSVReplay) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

type columnIndex struct {
	time, amount, class int
	features            [models.FeatureCount]int
}

func indexColumns(header []string) columnIndex {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	lookup := func(name string) int {
		if i, ok := pos[name]; ok {
			return i
		}
		return -1
	}
	ci := columnIndex{time: lookup("Time"), amount: lookup("Amount"), class: lookup("Class")}
	for i := range ci.features {
		ci.features[i] = lookup("V" + strconv.Itoa(i+1))
	}
	return ci
}

// transaction builds the row's transaction. Unparsable feature cells become 0;
// an unparsable Time, Amount or Class rejects the row.
func (ci columnIndex) transaction(idx int64, rec []string) (*models.Transaction, error) {
	tm, err := parseCell(rec, ci.time)
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	amount, err := parseCell(rec, ci.amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}

	t := &models.Transaction{
		ID:       fmt.Sprintf("txn_%d", idx),
		Idx:      idx,
		Time:     tm,
		Amount:   amount,
		Features: make([]float64, models.FeatureCount),
	}
	for i, col := range ci.features {
		if v, err := parseCell(rec, col); err == nil {
			t.Features[i] = v
		}
	}
	if ci.class >= 0 {
		c, err := parseCell(rec, ci.class)
		if err != nil {
			return nil, fmt.Errorf("class: %w", err)
		}
		label := int(c)
		t.Class = &label
	}
	return t, nil
}

// parseCell reads a float cell; a missing column or empty cell is 0.
func parseCell(rec []string, i int) (float64, error) {
	if i < 0 || i >= len(rec) {
		return 0, nil
	}
	s := strings.TrimSpace(rec[i])
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

var _ drepo.TransactionStream = (*CSVReplay)(nil)
