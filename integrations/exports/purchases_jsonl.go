package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"storechain/integrations/indexer"
)

type purchaseLine struct {
	Sequence       uint64 `json:"sequence"`
	Store          string `json:"store"`
	Buyer          string `json:"buyer"`
	Referrer       string `json:"referrer"`
	ProductID      uint64 `json:"product_id"`
	Price          string `json:"price"`
	ScheduleTotal  string `json:"schedule_total"`
	PaidCommission string `json:"paid_commission"`
	PlatformCut    string `json:"platform_cut"`
	PlatformTo     string `json:"platform_to"`
	Remainder      string `json:"remainder"`
	Refund         string `json:"refund"`
	CreatedAt      string `json:"created_at"`
}

// PurchasesJSONL builds a JSON Lines export of indexed purchases and returns
// the serialised payload alongside a checksum.
func PurchasesJSONL(records []indexer.PurchaseRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		line := purchaseLine{
			Sequence:       rec.Sequence,
			Store:          rec.Store,
			Buyer:          rec.Buyer,
			Referrer:       rec.Referrer,
			ProductID:      rec.ProductID,
			Price:          orZero(rec.Price),
			ScheduleTotal:  orZero(rec.ScheduleTotal),
			PaidCommission: orZero(rec.PaidCommission),
			PlatformCut:    orZero(rec.PlatformCut),
			PlatformTo:     rec.PlatformTo,
			Remainder:      orZero(rec.Remainder),
			Refund:         orZero(rec.Refund),
			CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}
