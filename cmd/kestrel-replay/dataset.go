package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sample is a transaction with its ground-truth label.
type Sample struct {
	Tx    domain.Transaction
	Fraud bool
}

type setter func(tx *domain.Transaction, v string) error

func setString(field func(*domain.Transaction) *string) setter {
	return func(tx *domain.Transaction, v string) error {
		*field(tx) = v
		return nil
	}
}

func setInt(field func(*domain.Transaction) *int) setter {
	return func(tx *domain.Transaction, v string) error {
		if v == "" {
			return nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(tx) = int(n)
		return nil
	}
}

// columns maps CSV headers to transaction fields. Header names match the
// JSON wire names.
var columns = map[string]setter{
	"transaction_id":                     setString(func(t *domain.Transaction) *string { return &t.ID }),
	"transaction_date":                   setString(func(t *domain.Transaction) *string { return &t.Date }),
	"transaction_channel":                setString(func(t *domain.Transaction) *string { return &t.Channel }),
	"transaction_payment_mode":           setString(func(t *domain.Transaction) *string { return &t.PaymentMode }),
	"transaction_payment_mode_anonymous": setInt(func(t *domain.Transaction) *int { return &t.PaymentModeCode }),
	"payment_gateway_bank":               setString(func(t *domain.Transaction) *string { return &t.GatewayBank }),
	"payment_gateway_bank_anonymous":     setInt(func(t *domain.Transaction) *int { return &t.GatewayBankCode }),
	"payer_email":                        setString(func(t *domain.Transaction) *string { return &t.PayerEmail }),
	"payer_email_anonymous":              setString(func(t *domain.Transaction) *string { return &t.PayerEmailAnonymous }),
	"payer_mobile":                       setString(func(t *domain.Transaction) *string { return &t.PayerMobile }),
	"payer_mobile_anonymous":             setString(func(t *domain.Transaction) *string { return &t.PayerMobileAnonymous }),
	"payer_device":                       setString(func(t *domain.Transaction) *string { return &t.PayerDevice }),
	"payer_browser":                      setString(func(t *domain.Transaction) *string { return &t.PayerBrowser }),
	"payer_browser_anonymous":            setInt(func(t *domain.Transaction) *int { return &t.PayerBrowserCode }),
	"payee_id":                           setString(func(t *domain.Transaction) *string { return &t.PayeeID }),
	"transaction_amount": func(t *domain.Transaction, v string) error {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		t.Amount = amount
		return nil
	},
}

// labelColumns are accepted names for the ground-truth column, in order of preference.
var labelColumns = []string{"is_fraud", "is_fraud_reported", "isfraud", "label"}

// ReadSamples loads up to limit labelled transactions (0 = all). Malformed
// rows are skipped and counted.
func ReadSamples(r io.Reader, limit int) ([]Sample, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := index["transaction_id"]; !ok {
		return nil, 0, errors.New("csv has no transaction_id column")
	}
	label := -1
	for _, name := range labelColumns {
		if i, ok := index[name]; ok {
			label = i
			break
		}
	}
	if label < 0 {
		return nil, 0, fmt.Errorf("csv has no label column (one of %s)", strings.Join(labelColumns, ", "))
	}

	var samples []Sample
	skipped := 0
	line := 1
	for limit <= 0 || len(samples) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return samples, skipped, fmt.Errorf("line %d: %w", line, err)
			}
			skipped++
			continue
		}

		sample, err := parseRow(record, index, label)
		if err != nil {
			slog.Debug("skipping malformed row", "line", line, "error", err)
			skipped++
			continue
		}
		samples = append(samples, sample)
	}
	return samples, skipped, nil
}

// ReadSamplesFile opens path and calls ReadSamples.
func ReadSamplesFile(path string, limit int) ([]Sample, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadSamples(f, limit)
}

func parseRow(record []string, index map[string]int, label int) (Sample, error) {
	var s Sample
	for name, i := range index {
		set, ok := columns[name]
		if !ok || i >= len(record) {
			continue
		}
		if err := set(&s.Tx, strings.TrimSpace(record[i])); err != nil {
			return s, fmt.Errorf("column %s: %w", name, err)
		}
	}
	if s.Tx.ID == "" {
		return s, errors.New("empty transaction_id")
	}
	if label >= len(record) {
		return s, errors.New("missing label")
	}
	s.Fraud = parseLabel(record[label])
	return s, nil
}

func parseLabel(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "1.0", "true", "yes", "fraud":
		return true
	}
	return false
}
