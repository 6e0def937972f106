package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// FeedRow is one signal observation: a quote update and an entry candidate
type FeedRow struct {
	Tick  int
	Quote types.Quote
}

// Batch is every row sharing one tick, in file order
type Batch struct {
	Tick int
	Rows []FeedRow
}

// LoadFeed reads a CSV feed file, see ParseFeed
func LoadFeed(path string, defaultType types.PositionType) ([]Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	defer f.Close()

	batches, err := ParseFeed(f, defaultType)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", path, err)
	}
	return batches, nil
}

// ParseFeed reads rows of ticker,price,score[,type[,tick]]. A header row is
// skipped, an empty type selects defaultType and rows without a tick form
// tick 0. Batches are returned in order of first appearance.
func ParseFeed(r io.Reader, defaultType types.PositionType) ([]Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var (
		batches []Batch
		index   = make(map[int]int)
		line    int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "ticker") {
			continue
		}

		row, err := parseFeedRecord(record, defaultType)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		i, ok := index[row.Tick]
		if !ok {
			i = len(batches)
			index[row.Tick] = i
			batches = append(batches, Batch{Tick: row.Tick})
		}
		batches[i].Rows = append(batches[i].Rows, row)
	}
	return batches, nil
}

func parseFeedRecord(record []string, defaultType types.PositionType) (FeedRow, error) {
	if len(record) < 3 {
		return FeedRow{}, fmt.Errorf("expected at least 3 fields, got %d", len(record))
	}

	ticker := strings.ToUpper(strings.TrimSpace(record[0]))
	if ticker == "" {
		return FeedRow{}, errors.New("empty ticker")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(record[1]))
	if err != nil {
		return FeedRow{}, fmt.Errorf("invalid price %q: %w", record[1], err)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if err != nil {
		return FeedRow{}, fmt.Errorf("invalid score %q: %w", record[2], err)
	}

	positionType := defaultType
	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		positionType, err = types.ParsePositionType(record[3])
		if err != nil {
			return FeedRow{}, err
		}
	}

	var tick int
	if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
		tick, err = strconv.Atoi(strings.TrimSpace(record[4]))
		if err != nil {
			return FeedRow{}, fmt.Errorf("invalid tick %q: %w", record[4], err)
		}
	}

	return FeedRow{
		Tick: tick,
		Quote: types.Quote{
			Ticker:       ticker,
			Price:        price,
			SignalScore:  score,
			PositionType: positionType,
		},
	}, nil
}
