package normalize

import "strings"

// ProductID strips a Shopify global id ("gid://shopify/Product/123") down to
// the numeric id used as the product cost key. Plain ids pass through.
func ProductID(gid string) string {
	gid = strings.TrimSpace(gid)
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}
