package image_test

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/image"
)

const headerSize = 256

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// prefixTLVs returns the fixed-prefix TLV set used by every test header:
// version + image type + a timestamp filler, sized so the record stream
// ends exactly at byte 28 (offset 8 + 8 + 6 + 6) -- the boundary
// VerifyIntegrity hashes up to -- leaving the hash/signature TLVs that
// follow entirely outside the hashed prefix regardless of their own
// length.
func prefixTLVs(version uint32, imgType image.ImageType) [][2]interface{} {
	return [][2]interface{}{
		{image.TlvVersion, u32(version)},
		{image.TlvImageType, u16(uint16(imgType))},
		{image.TlvTimestamp, u16(0)},
	}
}

func buildHeader(t *testing.T, payload []byte, version uint32, imgType image.ImageType) *image.Header {
	t.Helper()
	sum := sha256.New()
	region, err := image.Build(headerSize, uint32(len(payload)), prefixTLVs(version, imgType))
	if err != nil {
		t.Fatalf("Build (prefix pass): %v", err)
	}
	sum.Write(region[:28])
	sum.Write(payload)
	digest := sum.Sum(nil)

	tlvs := append(prefixTLVs(version, imgType), [2]interface{}{image.TlvSHA256, digest})
	region, err = image.Build(headerSize, uint32(len(payload)), tlvs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h, err := image.Parse(region, headerSize)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return h
}

func TestParseRejectsBadMagic(t *testing.T) {
	region := make([]byte, headerSize)
	copy(region, []byte{'X', 'X', 'X', 'X'})
	if _, err := image.Parse(region, headerSize); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}

func TestParseRejectsWrongSize(t *testing.T) {
	region := make([]byte, headerSize-1)
	if _, err := image.Parse(region, headerSize); err == nil {
		t.Fatal("expected a short region to be rejected")
	}
}

func TestVersionAndType(t *testing.T) {
	h := buildHeader(t, []byte("payload"), 7, image.ImageType(image.RoleApp))
	if h.Version() != 7 {
		t.Fatalf("Version() = %d, want 7", h.Version())
	}
	if !h.Type().IsApp() {
		t.Fatal("expected an application-role image type")
	}
}

func TestFindUnknownTypeNotFound(t *testing.T) {
	h := buildHeader(t, []byte("x"), 1, image.ImageType(image.RoleApp))
	if _, ok := h.Find(0x9999); ok {
		t.Fatal("Find should not match an unknown TLV type")
	}
}

func TestFindAllReturnsEveryMatch(t *testing.T) {
	region, err := image.Build(headerSize, 0, [][2]interface{}{
		{image.TlvPolicy, []byte("a")},
		{image.TlvPolicy, []byte("b")},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h, err := image.Parse(region, headerSize)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	all := h.FindAll(image.TlvPolicy)
	if len(all) != 2 {
		t.Fatalf("FindAll returned %d records, want 2", len(all))
	}
}

func TestVerifyIntegrity(t *testing.T) {
	payload := []byte("firmware bytes go here")
	h := buildHeader(t, payload, 3, image.ImageType(image.RoleApp))

	if err := image.VerifyIntegrity(h, payload, config.HashSHA256); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}

	corrupt := append([]byte(nil), payload...)
	corrupt[0] ^= 0xFF
	if err := image.VerifyIntegrity(h, corrupt, config.HashSHA256); err == nil {
		t.Fatal("expected a corrupted payload to fail integrity")
	}
}

func TestBuildOverflowsRejected(t *testing.T) {
	_, err := image.Build(8, 0, [][2]interface{}{
		{image.TlvVersion, make([]byte, 100)},
	})
	if err == nil {
		t.Fatal("expected a too-small header region to be rejected")
	}
}
