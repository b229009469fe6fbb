package devmapper

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/awnumar/memguard"

	"github.com/voltaic/blockcryptd/interfaces"
)

// CryptParams renders the parameter string consumed by the kernel crypt
// target parser: "<cipher> <hex-key> <backing-device> <start-sector>" with
// single-space separators. Field order and separators are a wire contract
// with the kernel, not cosmetic.
//
// The result embeds the key in hex and must never be persisted or logged.
// Callers wipe it with memguard.WipeBytes once the table has been issued.
func CryptParams(cipher string, key []byte, backingDevice string, startSector uint64) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", interfaces.ErrEncoding)
	}

	hexKey := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(hexKey, key)
	defer memguard.WipeBytes(hexKey)

	params := make([]byte, 0, len(cipher)+1+len(hexKey)+1+len(backingDevice)+1+20)
	params = append(params, cipher...)
	params = append(params, ' ')
	params = append(params, hexKey...)
	params = append(params, ' ')
	params = append(params, backingDevice...)
	params = append(params, ' ')
	params = strconv.AppendUint(params, startSector, 10)
	return params, nil
}
