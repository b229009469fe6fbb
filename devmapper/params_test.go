package devmapper

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltaic/blockcryptd/interfaces"
)

// TestCryptParams verifies the exact wire encoding consumed by the kernel
// target parser
func TestCryptParams(t *testing.T) {
	key := []byte{0xde, 0xad, 0xbe, 0xef}

	params, err := CryptParams("AES-256-XTS", key, "/dev/sda", 0)
	require.NoError(t, err)
	assert.Equal(t, "AES-256-XTS deadbeef /dev/sda 0", string(params))
}

func TestCryptParamsStartSector(t *testing.T) {
	params, err := CryptParams("AES-256-XTS", []byte{0x01}, "/dev/block/sda21", 2048)
	require.NoError(t, err)
	assert.Equal(t, "AES-256-XTS 01 /dev/block/sda21 2048", string(params))
}

// TestCryptParamsFullKey checks the field structure with a production-size
// key
func TestCryptParamsFullKey(t *testing.T) {
	key := bytes.Repeat([]byte{0xa5}, 64)

	params, err := CryptParams("AES-256-XTS", key, "/dev/sda", 0)
	require.NoError(t, err)

	fields := bytes.Split(params, []byte{' '})
	require.Len(t, fields, 4, "exactly four space-separated fields")
	assert.Equal(t, "AES-256-XTS", string(fields[0]))
	assert.Len(t, fields[1], 2*len(key), "key is hex encoded")
	assert.Equal(t, "/dev/sda", string(fields[2]))
	assert.Equal(t, "0", string(fields[3]))
}

func TestCryptParamsEmptyKey(t *testing.T) {
	_, err := CryptParams("AES-256-XTS", nil, "/dev/sda", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrEncoding)
}
