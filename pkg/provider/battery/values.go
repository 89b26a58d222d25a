package battery

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/contextkit/contextd/pkg/value"
)

// Values derives every battery key from st. A nil entry means the key is
// undetermined.
func (st Status) Values(lowThreshold int) map[string]*value.Value {
	out := make(map[string]*value.Value, len(Keys))
	for _, k := range Keys {
		out[k] = nil
	}

	if st.Capacity != nil {
		out[KeyChargePercentage] = ptr(value.Int(*st.Capacity))
	}

	discharging, dok := st.Discharging()
	charging, cok := st.Charging()
	if dok {
		out[KeyOnBattery] = ptr(value.Bool(discharging))
	}
	if cok {
		out[KeyIsCharging] = ptr(value.Bool(charging))
	}

	switch {
	case !dok:
	case !discharging:
		out[KeyLowBattery] = ptr(value.Bool(false))
	case st.Capacity != nil:
		out[KeyLowBattery] = ptr(value.Bool(*st.Capacity < int64(lowThreshold)))
	}

	if st.EnergyNow != nil && st.EnergyFull != nil && *st.EnergyFull != 0 &&
		st.PowerNow != nil && *st.PowerNow != 0 {
		now := float64(*st.EnergyNow)
		full := float64(*st.EnergyFull)
		rate := float64(*st.PowerNow)

		if dok && discharging {
			hours := (now - float64(lowThreshold)*full/100) / rate
			out[KeyTimeUntilLow] = ptr(value.Int(int64(max(hours, 0) * 3600)))
		}
		if cok && charging {
			hours := (full - now) / rate
			out[KeyTimeUntilFull] = ptr(value.Int(int64(max(hours, 0) * 3600)))
		}
	}
	return out
}

func ptr(v value.Value) *value.Value {
	return &v
}

func readString(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(data))
	return s, s != ""
}

func readInt(path string) *int64 {
	s, ok := readString(path)
	if !ok {
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	// Some drivers report current_now negative while discharging.
	if i < 0 {
		i = -i
	}
	return &i
}

func firstInt(dir string, names ...string) *int64 {
	for _, name := range names {
		if i := readInt(filepath.Join(dir, name)); i != nil {
			return i
		}
	}
	return nil
}
