package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"barclock/internal/model"
)

// replayRecord is the JSON-lines wire format for one recorded trade.
//
// Price and quantity are strings to preserve decimal precision, matching
// how exchanges serialize them; the timestamp is RFC3339 with offset.
type replayRecord struct {
	Symbol    string `json:"symbol" validate:"required"`
	Price     string `json:"price" validate:"required,numeric"`
	Quantity  string `json:"quantity" validate:"required,numeric"`
	Timestamp string `json:"timestamp" validate:"required"`
}

// Replay reads trade points from a JSON-lines stream, one record per
// line. It preserves record order exactly: identical input yields an
// identical point sequence, which is what makes replayed runs
// reproducible end to end.
type Replay struct {
	r        io.Reader
	validate *validator.Validate
}

// NewReplay returns a replay source over r.
func NewReplay(r io.Reader) *Replay {
	return &Replay{r: r, validate: validator.New()}
}

// StartPointStream decodes the stream in a background goroutine. The
// symbols argument filters: records for other symbols are skipped. The
// returned channel closes at end of input; a malformed record stops the
// stream with an error log rather than silently skipping, since a replay
// with holes is not a replay.
func (rp *Replay) StartPointStream(ctx context.Context, symbols []string) (<-chan model.TradePoint, error) {
	if rp.r == nil {
		return nil, errors.New("replay source has no input")
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	out := make(chan model.TradePoint, 100)
	go rp.decode(ctx, wanted, out)
	return out, nil
}

func (rp *Replay) decode(ctx context.Context, wanted map[string]struct{}, out chan<- model.TradePoint) {
	defer close(out)

	scanner := bufio.NewScanner(rp.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		point, err := rp.parse(raw)
		if err != nil {
			log.Error().Err(err).Int("line", line).Msg("malformed replay record")
			return
		}

		if _, ok := wanted[point.Symbol]; !ok {
			continue
		}

		select {
		case out <- point:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Int("line", line).Msg("replay input read error")
		return
	}
	log.Info().Int("lines", line).Msg("replay input exhausted")
}

// parse decodes and validates one record.
func (rp *Replay) parse(raw []byte) (model.TradePoint, error) {
	var rec replayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.TradePoint{}, fmt.Errorf("decoding record: %w", err)
	}
	if err := rp.validate.Struct(rec); err != nil {
		return model.TradePoint{}, fmt.Errorf("validating record: %w", err)
	}

	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return model.TradePoint{}, fmt.Errorf("parsing price %q: %w", rec.Price, err)
	}
	quantity, err := decimal.NewFromString(rec.Quantity)
	if err != nil {
		return model.TradePoint{}, fmt.Errorf("parsing quantity %q: %w", rec.Quantity, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return model.TradePoint{}, fmt.Errorf("parsing timestamp %q: %w", rec.Timestamp, err)
	}

	return model.TradePoint{
		Symbol:    rec.Symbol,
		Price:     price,
		Quantity:  quantity,
		Timestamp: ts.UTC(),
	}, nil
}
