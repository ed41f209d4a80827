package bytesize

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "4096", 4096, false},
		{"bytes suffix", "512B", 512, false},
		{"kibibytes", "4Ki", 4096, false},
		{"kibibytes full", "4KiB", 4096, false},
		{"mebibytes", "128Mi", 128 * 1024 * 1024, false},
		{"gibibytes", "1Gi", 1024 * 1024 * 1024, false},
		{"kilobytes", "1K", 1000, false},
		{"megabytes", "100MB", 100 * 1000 * 1000, false},
		{"lowercase unit", "1gi", 1024 * 1024 * 1024, false},
		{"surrounding space", "  1Gi  ", 1024 * 1024 * 1024, false},
		{"fractional", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},

		{"empty", "", 0, true},
		{"spaces only", "   ", 0, true},
		{"bad unit", "1Qi", 0, true},
		{"negative", "-1Gi", 0, true},
		{"unit only", "Mi", 0, true},
		{"garbage", "lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{4 * KiB, "4.00KiB"},
		{128 * MiB, "128.00MiB"},
		{GiB, "1.00GiB"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("128Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 128*MiB {
		t.Errorf("got %d, want %d", b, 128*MiB)
	}
	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Error("expected error for invalid input")
	}
}
