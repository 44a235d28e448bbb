package firestore

import (
	"crypto/rand"
	"math/big"
)

const (
	autoIDLength   = 20
	autoIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var autoIDMax = big.NewInt(int64(len(autoIDAlphabet)))

// newAutoID returns a random 20 character base62 document id.
func newAutoID() string {
	b := make([]byte, autoIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, autoIDMax)
		if err != nil {
			panic("firestore: crypto/rand failed: " + err.Error())
		}
		b[i] = autoIDAlphabet[n.Int64()]
	}
	return string(b)
}
