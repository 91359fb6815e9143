package i2clog

import "testing"

func TestOctetFormatting(t *testing.T) {
	if got := Octet(0x0A); got != "0A" {
		t.Fatalf("Octet(0x0A) = %q, want %q", got, "0A")
	}
	if got := Octet(0xFF); got != "FF" {
		t.Fatalf("Octet(0xFF) = %q, want %q", got, "FF")
	}
}

func TestForDoesNotPanic(t *testing.T) {
	log := For("T50")
	log.Debug("ready")
	log.Debugf("octet:%s", Octet(0x42))
	log.Info("attached")
	log.Infof("address:%s", Octet(0x50))
}
