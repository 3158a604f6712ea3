package protocol

import (
	"html"
)

// decodeReceipt extracts the line-item map from an embedded purchase receipt
// document. For each line item the primary product identifier is PackageID;
// coupon-type items carry ItemAppID instead. If neither identifier resolves,
// or an item has no display name, the whole receipt is discarded: partial or
// ambiguous financial data is worse than none.
func (p *Parser) decodeReceipt(data []byte) map[uint32]string {
	doc, err := ParseKeyValue(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to parse purchase receipt")
		return nil
	}

	lineItems := doc.Child("lineitems")
	if lineItems == nil {
		p.logger.Warn().Msg("purchase receipt has no line items")
		return nil
	}

	items := make(map[uint32]string, len(lineItems.Children))
	for _, item := range lineItems.Children {
		id, ok := item.Int32("PackageID")
		if !ok {
			// Coupons carry ItemAppID instead of PackageID.
			id, ok = item.Int32("ItemAppID")
		}
		if !ok || id < 0 {
			p.logger.Warn().Str("item", item.Name).Msg("receipt line item has no product identifier")
			return nil
		}

		name := item.String("ItemDescription")
		if name == "" {
			p.logger.Warn().Int32("product_id", id).Msg("receipt line item has no display name")
			return nil
		}

		// The service pre-encodes display names as HTML entities.
		items[uint32(id)] = html.UnescapeString(name)
	}

	return items
}
