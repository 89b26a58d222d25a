package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ProtocolVersion
		wantErr bool
	}{
		{in: Current, want: ProtocolVersion{Major: 1, Minor: 0}},
		{in: "1.4", want: ProtocolVersion{Major: 1, Minor: 4}},
		{in: "3.12", want: ProtocolVersion{Major: 3, Minor: 12}},
		{in: "0.0", want: ProtocolVersion{}},
		{in: "65535.65535", want: ProtocolVersion{Major: 65535, Minor: 65535}},

		// Forms a broker TXT record might carry but which are not versions.
		{in: "", wantErr: true},
		{in: "v1.0", wantErr: true},
		{in: "1", wantErr: true},
		{in: "1.", wantErr: true},
		{in: ".1", wantErr: true},
		{in: "1.0.1", wantErr: true},
		{in: "1.-2", wantErr: true},
		{in: "65536.0", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if s := got.String(); s != tt.in {
			t.Errorf("Parse(%q).String() = %q", tt.in, s)
		}
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		broker, client string
		want           bool
	}{
		{"1.0", "1.0", true},
		{"1.0", "1.3", true},
		{"1.3", "1.0", true},
		{"1.0", "2.0", false},
		{"2.1", "1.9", false},
		{"0.9", "0.1", true},
	}

	for _, tt := range tests {
		b, c := mustParse(t, tt.broker), mustParse(t, tt.client)
		if got := b.Compatible(c); got != tt.want {
			t.Errorf("%s.Compatible(%s) = %v, want %v", b, c, got, tt.want)
		}
		if got := c.Compatible(b); got != tt.want {
			t.Errorf("Compatible is not symmetric for %s and %s", b, c)
		}
	}
}

func TestIsCompatibleWithAdvertisedBrokers(t *testing.T) {
	advertised := map[string]bool{
		Current:  true,
		"1.9":    true,
		"2.0":    false,
		"0.9":    false,
		"":       false,
		"latest": false,
	}
	for v, want := range advertised {
		if got := IsCompatible(v); got != want {
			t.Errorf("IsCompatible(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestMustCurrent(t *testing.T) {
	if got := MustCurrent().String(); got != Current {
		t.Errorf("MustCurrent() = %s, want %s", got, Current)
	}
}

func mustParse(t *testing.T, s string) ProtocolVersion {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}
