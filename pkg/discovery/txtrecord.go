package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/contextkit/contextd/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeBrokerTXT creates the TXT records for a broker advertisement.
func EncodeBrokerTXT(info *BrokerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyVersion] = info.Version
	if txt[TXTKeyVersion] == "" {
		txt[TXTKeyVersion] = version.Current
	}
	txt[TXTKeyNetwork] = info.Network
	if txt[TXTKeyNetwork] == "" {
		txt[TXTKeyNetwork] = "tcp"
	}

	// Optional fields
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.Host != "" {
		txt[TXTKeyHost] = info.Host
	}
	if info.KeyCount > 0 {
		txt[TXTKeyKeys] = strconv.Itoa(info.KeyCount)
	}

	return txt
}

// DecodeBrokerTXT parses the TXT records of a broker advertisement.
// Brokers speaking an incompatible protocol version are rejected with
// ErrIncompatible.
func DecodeBrokerTXT(txt TXTRecordMap) (*BrokerInfo, error) {
	info := &BrokerInfo{}

	var ok bool
	info.Version, ok = txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if !version.IsCompatible(info.Version) {
		return nil, fmt.Errorf("%w: %q", ErrIncompatible, info.Version)
	}

	info.Network, ok = txt[TXTKeyNetwork]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNetwork)
	}
	switch info.Network {
	case "tcp", "unix":
	default:
		return nil, fmt.Errorf("%w: network %q", ErrInvalidTXTRecord, info.Network)
	}

	info.Path = txt[TXTKeyPath]
	if info.Network == "unix" && info.Path == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyPath)
	}
	info.Host = txt[TXTKeyHost]

	if s, ok := txt[TXTKeyKeys]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: key count %q", ErrInvalidTXTRecord, s)
		}
		info.KeyCount = n
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
