package events

import (
	"strconv"

	"fluxrisk/crypto"
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func setIfPresent(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}
