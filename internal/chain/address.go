package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Canonical token identity is the lowercase hex form of the 21-byte TRON
// address, always starting with the 0x41 prefix byte ("41..", 42 hex chars).
// Base58check ("T..") input is accepted anywhere a token is named and is
// normalized on entry.

const (
	addrPrefixByte = 0x41
	addrHexLen     = 42

	// syntheticMagic is the second byte of locally minted addresses for
	// tokens that have no on-chain contract (paper symbols). Real TRON
	// addresses never carry it directly after the prefix by construction
	// here; collisions with deployed contracts are accepted as negligible.
	syntheticMagic = 0x99
)

var ErrInvalidAddress = errors.New("invalid address")

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var b58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(b58Alphabet); i++ {
		idx[b58Alphabet[i]] = int8(i)
	}
	return idx
}()

// CanonicalAddress normalizes any accepted token spelling to the lowercase
// "41.." hex form. It accepts base58check ("T.."), hex with or without the
// 41 prefix, and is case-insensitive on hex input.
func CanonicalAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidAddress
	}
	if s[0] == 'T' {
		raw, err := base58CheckDecode(s)
		if err != nil {
			return "", err
		}
		if len(raw) != 21 || raw[0] != addrPrefixByte {
			return "", fmt.Errorf("%w: bad payload", ErrInvalidAddress)
		}
		return hex.EncodeToString(raw), nil
	}

	h := strings.ToLower(s)
	if strings.HasPrefix(h, "0x") {
		h = h[2:]
	}
	if len(h) == addrHexLen-2 {
		h = "41" + h
	}
	if len(h) != addrHexLen || !strings.HasPrefix(h, "41") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return h, nil
}

// Base58Address renders a canonical hex address in the familiar "T.." form.
func Base58Address(canonical string) (string, error) {
	raw, err := hex.DecodeString(canonical)
	if err != nil || len(raw) != 21 || raw[0] != addrPrefixByte {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, canonical)
	}
	return base58CheckEncode(raw), nil
}

// SyntheticAddress mints a deterministic canonical address for a paper-only
// symbol. The same symbol always maps to the same address.
func SyntheticAddress(symbol string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(symbol))))
	raw := make([]byte, 21)
	raw[0] = addrPrefixByte
	raw[1] = syntheticMagic
	copy(raw[2:], sum[:19])
	return hex.EncodeToString(raw)
}

// IsSynthetic reports whether a canonical address was locally minted.
func IsSynthetic(canonical string) bool {
	return strings.HasPrefix(canonical, "4199")
}

func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(append([]byte(nil), payload...), second[:4]...)

	x := new(big.Int).SetBytes(full)
	base := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append(out, b58Alphabet[mod.Int64()])
	}
	for _, b := range full {
		if b != 0 {
			break
		}
		out = append(out, b58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58CheckDecode(s string) ([]byte, error) {
	x := big.NewInt(0)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		d := b58Index[s[i]]
		if d < 0 {
			return nil, fmt.Errorf("%w: bad base58 char %q", ErrInvalidAddress, s[i])
		}
		x.Mul(x, base)
		x.Add(x, big.NewInt(int64(d)))
	}
	raw := x.Bytes()
	for i := 0; i < len(s) && s[i] == b58Alphabet[0]; i++ {
		raw = append([]byte{0}, raw...)
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidAddress)
	}
	payload, check := raw[:len(raw)-4], raw[len(raw)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if check[i] != second[i] {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
		}
	}
	return payload, nil
}
