package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/checkout"
)

// CompressionAlgo specifies the compression algorithm used for a snapshot.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// calculationRow is the database shape of a calculation snapshot. The
// discount breakdown is stored as JSON, zstd-compressed past the threshold
// (large carts on promo days produce breakdowns in the tens of kilobytes).
type calculationRow struct {
	ID                  id.ID           `db:"id"`
	TransactionRef      string          `db:"transaction_ref"`
	Subtotal            types.Money     `db:"subtotal"`
	Discounts           json.RawMessage `db:"discounts"`
	DiscountsCompressed []byte          `db:"discounts_compressed"`
	CompressionAlgo     CompressionAlgo `db:"compression_algo"`
	TotalDiscount       types.Money     `db:"total_discount"`
	FinalAmount         types.Money     `db:"final_amount"`
	PointsEarned        int64           `db:"points_earned"`
	PointsRedeemed      int64           `db:"points_redeemed"`
	Finalized           bool            `db:"finalized"`
	CalculatedAt        time.Time       `db:"calculated_at"`
}

// CalculationStore implements checkout.Recorder. A partial unique index on
// transaction_ref for finalized rows is the authoritative at-most-once
// guard for finalize.
type CalculationStore struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes
}

// NewCalculationStore creates a new calculation store.
func NewCalculationStore(txManager *TxManager) (*CalculationStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &CalculationStore{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024, // 10KB
	}, nil
}

// Record inserts one calculation snapshot.
func (s *CalculationStore) Record(ctx context.Context, result *checkout.CalculationResult) error {
	discounts, err := json.Marshal(result.Discounts)
	if err != nil {
		return fmt.Errorf("marshal discounts: %w", err)
	}

	row := calculationRow{
		ID:              result.ID,
		TransactionRef:  result.TransactionRef,
		Subtotal:        result.Subtotal,
		Discounts:       discounts,
		CompressionAlgo: CompressionNone,
		TotalDiscount:   result.TotalDiscount,
		FinalAmount:     result.FinalAmount,
		PointsEarned:    result.PointsEarned,
		PointsRedeemed:  result.PointsRedeemed,
		Finalized:       result.Finalized,
		CalculatedAt:    result.CalculatedAt,
	}

	if len(row.Discounts) > s.compressThreshold {
		row.DiscountsCompressed = s.encoder.EncodeAll(row.Discounts, nil)
		row.Discounts = nil
		row.CompressionAlgo = CompressionZstd
	}

	sql := `
		INSERT INTO calculations (
			id, transaction_ref, subtotal,
			discounts, discounts_compressed, compression_algo,
			total_discount, final_amount,
			points_earned, points_redeemed, finalized, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	querier := s.txManager.GetQuerier(ctx)
	_, err = querier.Exec(ctx, sql,
		row.ID, row.TransactionRef, row.Subtotal,
		row.Discounts, row.DiscountsCompressed, row.CompressionAlgo,
		row.TotalDiscount, row.FinalAmount,
		row.PointsEarned, row.PointsRedeemed, row.Finalized, row.CalculatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.NewAlreadyFinalized(result.TransactionRef).WithCause(err)
		}
		return fmt.Errorf("insert calculation: %w", err)
	}

	return nil
}

// ListByRef returns every recorded snapshot for a transaction reference,
// oldest first.
func (s *CalculationStore) ListByRef(ctx context.Context, transactionRef string) ([]checkout.CalculationResult, error) {
	sql := `
		SELECT id, transaction_ref, subtotal,
			   discounts, discounts_compressed, compression_algo,
			   total_discount, final_amount,
			   points_earned, points_redeemed, finalized, calculated_at
		FROM calculations
		WHERE transaction_ref = $1
		ORDER BY calculated_at, id
	`

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, transactionRef)
	if err != nil {
		return nil, fmt.Errorf("query calculations: %w", err)
	}
	defer rows.Close()

	var results []checkout.CalculationResult
	for rows.Next() {
		var row calculationRow
		err := rows.Scan(
			&row.ID, &row.TransactionRef, &row.Subtotal,
			&row.Discounts, &row.DiscountsCompressed, &row.CompressionAlgo,
			&row.TotalDiscount, &row.FinalAmount,
			&row.PointsEarned, &row.PointsRedeemed, &row.Finalized, &row.CalculatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}

		result, err := s.toResult(row)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// HasFinalized reports whether a finalized snapshot exists for the ref.
func (s *CalculationStore) HasFinalized(ctx context.Context, transactionRef string) (bool, error) {
	sql := `SELECT EXISTS (SELECT 1 FROM calculations WHERE transaction_ref = $1 AND finalized)`

	var exists bool
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, sql, transactionRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check finalized: %w", err)
	}

	return exists, nil
}

func (s *CalculationStore) toResult(row calculationRow) (checkout.CalculationResult, error) {
	discounts := row.Discounts
	if row.CompressionAlgo == CompressionZstd && len(row.DiscountsCompressed) > 0 {
		decompressed, err := s.decoder.DecodeAll(row.DiscountsCompressed, nil)
		if err != nil {
			return checkout.CalculationResult{}, fmt.Errorf("decompress discounts: %w", err)
		}
		discounts = decompressed
	}

	var applied []benefit.AppliedDiscount
	if len(discounts) > 0 {
		if err := json.Unmarshal(discounts, &applied); err != nil {
			return checkout.CalculationResult{}, fmt.Errorf("unmarshal discounts: %w", err)
		}
	}

	return checkout.CalculationResult{
		ID:             row.ID,
		TransactionRef: row.TransactionRef,
		Subtotal:       row.Subtotal,
		Discounts:      applied,
		TotalDiscount:  row.TotalDiscount,
		FinalAmount:    row.FinalAmount,
		PointsEarned:   row.PointsEarned,
		PointsRedeemed: row.PointsRedeemed,
		Finalized:      row.Finalized,
		CalculatedAt:   row.CalculatedAt,
	}, nil
}

// Ensure interface compliance.
var _ checkout.Recorder = (*CalculationStore)(nil)
