package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"storechain/integrations/indexer"
)

// Amounts stay strings: they are arbitrary precision ledger integers.
type purchaseRow struct {
	Sequence       int64  `parquet:"name=sequence, type=INT64"`
	Store          string `parquet:"name=store, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer          string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Referrer       string `parquet:"name=referrer, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProductID      int64  `parquet:"name=product_id, type=INT64"`
	Price          string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScheduleTotal  string `parquet:"name=schedule_total, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaidCommission string `parquet:"name=paid_commission, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlatformCut    string `parquet:"name=platform_cut, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlatformTo     string `parquet:"name=platform_to, type=BYTE_ARRAY, convertedtype=UTF8"`
	Remainder      string `parquet:"name=remainder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Refund         string `parquet:"name=refund, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt      string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// PurchasesParquet builds a snappy-compressed Parquet export of indexed
// purchases and returns the payload alongside its checksum.
func PurchasesParquet(records []indexer.PurchaseRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(purchaseRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &purchaseRow{
			Sequence:       int64(rec.Sequence),
			Store:          rec.Store,
			Buyer:          rec.Buyer,
			Referrer:       rec.Referrer,
			ProductID:      int64(rec.ProductID),
			Price:          orZero(rec.Price),
			ScheduleTotal:  orZero(rec.ScheduleTotal),
			PaidCommission: orZero(rec.PaidCommission),
			PlatformCut:    orZero(rec.PlatformCut),
			PlatformTo:     rec.PlatformTo,
			Remainder:      orZero(rec.Remainder),
			Refund:         orZero(rec.Refund),
			CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	return checksummed(buffer.Bytes())
}
