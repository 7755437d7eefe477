package util

import "github.com/rs/xid"

// NewID returns a globally unique, time-sortable identifier. A non-empty prefix
// is joined with an underscore, e.g. "cmt_cv1b7ksg2s7cn1ad2vbg".
func NewID(prefix string) string {
	id := xid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
