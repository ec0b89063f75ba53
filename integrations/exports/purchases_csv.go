package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"storechain/integrations/indexer"
)

var purchaseHeader = []string{
	"sequence", "store", "buyer", "referrer", "product_id", "price",
	"schedule_total", "paid_commission", "platform_cut", "platform_to",
	"remainder", "refund", "created_at",
}

// PurchasesCSV builds a CSV export of indexed purchases and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func PurchasesCSV(records []indexer.PurchaseRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(purchaseHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.Sequence, 10),
			rec.Store,
			rec.Buyer,
			rec.Referrer,
			strconv.FormatUint(rec.ProductID, 10),
			orZero(rec.Price),
			orZero(rec.ScheduleTotal),
			orZero(rec.PaidCommission),
			orZero(rec.PlatformCut),
			rec.PlatformTo,
			orZero(rec.Remainder),
			orZero(rec.Refund),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func orZero(amount string) string {
	if amount == "" {
		return "0"
	}
	return amount
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
