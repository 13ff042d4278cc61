package service

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

// Limits for list endpoints
const (
	DefaultActivityLimit    = 20
	MaxActivityLimit        = 100
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// maxAddressHexLen is 32 bytes of hex
const maxAddressHexLen = 64

// ParseLimit parses a limit query parameter. Empty means def.
func ParseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError("limit", "must be an integer")
	}
	return resolveLimit(limit, def, max)
}

// resolveLimit maps 0 to def and rejects values outside 1..max
func resolveLimit(limit, def, max int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 1 || limit > max {
		return 0, apperrors.NewInvalidParameterError("limit", "must be between 1 and "+strconv.Itoa(max))
	}
	return limit, nil
}

// ParseRaffleID parses a non-negative decimal raffle id
func ParseRaffleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, apperrors.NewInvalidRaffleIDError(raw)
	}
	return id, nil
}

func validateRaffleID(id int64) error {
	if id < 0 {
		return apperrors.NewInvalidRaffleIDError(strconv.FormatInt(id, 10))
	}
	return nil
}

// NormalizeAddress validates a 0x-prefixed account address of up to 32
// bytes and returns it lowercased. Short forms such as 0x1 are accepted.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(addr, "0x") {
		return "", apperrors.NewInvalidAddressError(raw)
	}
	digits := addr[2:]
	if len(digits) == 0 || len(digits) > maxAddressHexLen {
		return "", apperrors.NewInvalidAddressError(raw)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	if _, err := hexutil.Decode("0x" + digits); err != nil {
		return "", apperrors.NewInvalidAddressError(raw)
	}
	return addr, nil
}
