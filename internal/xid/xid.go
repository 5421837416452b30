// Package xid generates short unique references for delivery orders. The
// references end up printed on documents, so they stay compact: prefix,
// base-36 timestamp, random suffix.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

func New(prefix string) string {
	stamp := strconv.FormatInt(time.Now().Unix(), 36)
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-%d", prefix, stamp, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s-%s", prefix, stamp, hex.EncodeToString(buf))
}
