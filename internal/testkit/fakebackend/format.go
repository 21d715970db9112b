package fakebackend

import (
	"strconv"

	"imi-storefront/internal/domain"
)

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10) + ".00"
}

func productInfo(line domain.OrderProduct) string {
	if line.Product != nil {
		return line.Product.Name
	}
	return line.ProductName
}
