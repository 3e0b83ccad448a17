package boot_test

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/wolfssl/wolfboot-core/boot"
	"github.com/wolfssl/wolfboot-core/config"
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/image"
	"github.com/wolfssl/wolfboot-core/keystore"
	"github.com/wolfssl/wolfboot-core/simflash"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/update"
)

const (
	sectorSize    = 0x400
	partitionSize = 0x8000
	headerSize    = 512
)

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

func prefixTLVs(version uint32) [][2]interface{} {
	return [][2]interface{}{
		{image.TlvVersion, u32(version)},
		{image.TlvImageType, u16(uint16(image.RoleApp))},
		{image.TlvTimestamp, u16(0)},
	}
}

type fixture struct {
	fm   *flash.Manager
	dev  *simflash.Device
	eng  *update.Engine
	priv *rsa.PrivateKey
	pub  []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev, err := simflash.New(filepath.Join(t.TempDir(), "flash.bin"), partitionSize*2+sectorSize, sectorSize, true)
	if err != nil {
		t.Fatalf("simflash.New: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	fm := flash.NewManager([]flash.Device{dev})
	fm.Register(flash.Partition{Tag: flash.TagBoot, Device: 0, Offset: 0, Size: partitionSize})
	fm.Register(flash.Partition{Tag: flash.TagUpdate, Device: 0, Offset: partitionSize, Size: partitionSize})
	fm.Register(flash.Partition{Tag: flash.TagSwap, Device: 0, Offset: partitionSize * 2, Size: sectorSize})

	cfg := config.Config{
		SectorSize:    sectorSize,
		PartitionSize: partitionSize,
		Hash:          config.HashSHA256,
	}
	tm := trailer.New(fm, cfg)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	ks := &keystore.EmbeddedStore{Keys: []keystore.EmbeddedKey{
		{Pub: pub, Type: keystore.KeyTypeRSA2048},
	}}

	eng, err := update.New(fm, tm, cfg, ks, keystore.SignatureVerifier{}, nil, headerSize)
	if err != nil {
		t.Fatalf("update.New: %v", err)
	}
	return &fixture{fm: fm, dev: dev, eng: eng, priv: priv, pub: pub}
}

func (f *fixture) buildImage(t *testing.T, version uint32, payload []byte) []byte {
	t.Helper()
	region, err := image.Build(headerSize, uint32(len(payload)), prefixTLVs(version))
	if err != nil {
		t.Fatalf("Build (prefix): %v", err)
	}
	sum := sha256.New()
	sum.Write(region[:28])
	sum.Write(payload)
	digest := sum.Sum(nil)

	sig, err := rsa.SignPSS(rand.Reader, f.priv, crypto.SHA256, digest, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		t.Fatalf("SignPSS: %v", err)
	}

	tlvs := append(prefixTLVs(version),
		[2]interface{}{image.TlvPubKeyHash, keystore.RawKeyHash(f.pub)},
		[2]interface{}{image.TlvSHA256, digest},
		[2]interface{}{image.TlvSigRSA2048, sig},
	)
	region, err = image.Build(headerSize, uint32(len(payload)), tlvs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return append(region, payload...)
}

func (f *fixture) writeImage(t *testing.T, tag flash.Tag, version uint32, payload []byte) {
	t.Helper()
	img := f.buildImage(t, version, payload)
	if err := f.fm.Write(tag, 0, img); err != nil {
		t.Fatalf("Write image into %v: %v", tag, err)
	}
}

func repeated(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestBootVerifiesAlreadyValidImage(t *testing.T) {
	f := newFixture(t)
	payload := repeated('A', 1000)
	f.writeImage(t, flash.TagBoot, 1, payload)
	if err := f.eng.SetPartitionState(flash.TagBoot, trailer.StateSuccess); err != nil {
		t.Fatalf("SetPartitionState: %v", err)
	}

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !bytes.Equal(img.Payload, payload) {
		t.Fatal("Boot returned the wrong payload")
	}
	if img.Header.Version() != 1 {
		t.Fatalf("Version() = %d, want 1", img.Header.Version())
	}
}

func TestBootRunsPendingForwardUpdate(t *testing.T) {
	f := newFixture(t)
	oldPayload := repeated('A', 1500)
	newPayload := repeated('B', 2000)
	f.writeImage(t, flash.TagBoot, 1, oldPayload)
	f.writeImage(t, flash.TagUpdate, 2, newPayload)
	if err := f.eng.UpdateTrigger(); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if img.Header.Version() != 2 || !bytes.Equal(img.Payload, newPayload) {
		t.Fatal("Boot should have installed the pending update before verifying")
	}
}

func TestBootRollsBackWhenBootImageIsCorrupted(t *testing.T) {
	f := newFixture(t)
	goodPayload := repeated('A', 1500)
	backupPayload := repeated('B', 1200)
	// BOOT is a confirmed, successful image -- Run's own state dispatch
	// has nothing pending and will be a no-op. UPDATE separately holds
	// a valid, previously-confirmed image available as a rollback
	// target (fallbackAllowed skips the downgrade check, so its version
	// need not exceed BOOT's).
	f.writeImage(t, flash.TagBoot, 2, goodPayload)
	if err := f.eng.SetPartitionState(flash.TagBoot, trailer.StateSuccess); err != nil {
		t.Fatalf("SetPartitionState: %v", err)
	}
	f.writeImage(t, flash.TagUpdate, 1, backupPayload)

	// Simulate flash bit-rot on the running image, unrelated to any
	// interrupted update: Boot's own Run-dispatch sees nothing to do,
	// but VerifyImage must fail and trigger EmergencyRollback directly.
	corrupt := append([]byte{}, goodPayload...)
	corrupt[0] = 0x00
	if err := f.fm.Write(flash.TagBoot, headerSize, corrupt); err != nil {
		t.Fatalf("Write (corrupt): %v", err)
	}

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot (expected rollback recovery): %v", err)
	}
	if img.Header.Version() != 1 || !bytes.Equal(img.Payload, backupPayload) {
		t.Fatal("Boot should have rolled back to UPDATE's backup image")
	}
}

func TestBootFatalWhenUnrecoverable(t *testing.T) {
	f := newFixture(t)
	payload := repeated('A', 1000)
	f.writeImage(t, flash.TagBoot, 1, payload)
	// Corrupt BOOT and leave UPDATE empty: there is nothing to roll
	// back to.
	corrupt := append([]byte{}, payload...)
	corrupt[0] = 0x00
	if err := f.fm.Write(flash.TagBoot, headerSize, corrupt); err != nil {
		t.Fatalf("Write (corrupt): %v", err)
	}

	var policyCalled bool
	policy := func(cause error) { policyCalled = true }

	_, err := boot.Boot(f.eng, nil, policy)
	if err == nil {
		t.Fatal("expected Boot to report a fatal error")
	}
	if !policyCalled {
		t.Fatal("expected the panic policy to be invoked")
	}
}

type recordingScatterer struct {
	got []byte
}

func (s *recordingScatterer) Scatter(payload []byte) error {
	s.got = append([]byte{}, payload...)
	return nil
}

func TestBootPanicsWhenBothPartitionsEmpty(t *testing.T) {
	f := newFixture(t)
	var policyCalled bool
	policy := func(cause error) { policyCalled = true }

	_, err := boot.Boot(f.eng, nil, policy)
	if err == nil {
		t.Fatal("expected Boot to report a fatal error with no bootable image anywhere")
	}
	if !policyCalled {
		t.Fatal("expected the panic policy to be invoked")
	}
}

func TestBootIgnoresUnarmedUpdate(t *testing.T) {
	f := newFixture(t)
	bootPayload := repeated('A', 1500)
	f.writeImage(t, flash.TagBoot, 1, bootPayload)
	f.writeImage(t, flash.TagUpdate, 2, repeated('B', 1500))
	// No UpdateTrigger: UPDATE's presence alone must not arm anything.

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if img.Header.Version() != 1 || !bytes.Equal(img.Payload, bootPayload) {
		t.Fatal("an unarmed UPDATE image must be ignored")
	}
}

func TestBootDeniesDowngradeTrigger(t *testing.T) {
	f := newFixture(t)
	bootPayload := repeated('A', 1500)
	f.writeImage(t, flash.TagBoot, 2, bootPayload)
	f.writeImage(t, flash.TagUpdate, 1, repeated('B', 1500))
	if err := f.eng.UpdateTrigger(); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if img.Header.Version() != 2 || !bytes.Equal(img.Payload, bootPayload) {
		t.Fatal("a lower-versioned UPDATE image must be denied, leaving BOOT untouched")
	}
}

func TestBootKeepsOldImageWhenUpdateIntegrityFails(t *testing.T) {
	f := newFixture(t)
	bootPayload := repeated('A', 1500)
	updatePayload := repeated('B', 1500)
	f.writeImage(t, flash.TagBoot, 1, bootPayload)
	f.writeImage(t, flash.TagUpdate, 2, updatePayload)
	if err := f.eng.UpdateTrigger(); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}

	// Mangle the payload underneath UPDATE's already-computed SHA-256
	// TLV, so the header still parses but integrity verification fails.
	corrupt := append([]byte{}, updatePayload...)
	corrupt[0] = 0x00
	if err := f.fm.Write(flash.TagUpdate, headerSize, corrupt); err != nil {
		t.Fatalf("Write (corrupt): %v", err)
	}

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if img.Header.Version() != 1 || !bytes.Equal(img.Payload, bootPayload) {
		t.Fatal("an UPDATE image that fails integrity verification must never be installed")
	}
}

func TestBootRollsBackFromExplicitTestingState(t *testing.T) {
	f := newFixture(t)
	newPayload := repeated('A', 1500)
	backupPayload := repeated('B', 1200)
	f.writeImage(t, flash.TagBoot, 2, newPayload)
	if err := f.eng.SetPartitionState(flash.TagBoot, trailer.StateTesting); err != nil {
		t.Fatalf("SetPartitionState: %v", err)
	}
	f.writeImage(t, flash.TagUpdate, 1, backupPayload)

	img, err := boot.Boot(f.eng, nil, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if img.Header.Version() != 1 || !bytes.Equal(img.Payload, backupPayload) {
		t.Fatal("BOOT left in TESTING across a reboot must trigger Run's own rollback dispatch")
	}
}

func TestBootInvokesScatterer(t *testing.T) {
	f := newFixture(t)
	payload := repeated('A', 1000)
	f.writeImage(t, flash.TagBoot, 1, payload)
	if err := f.eng.SetPartitionState(flash.TagBoot, trailer.StateSuccess); err != nil {
		t.Fatalf("SetPartitionState: %v", err)
	}

	s := &recordingScatterer{}
	if _, err := boot.Boot(f.eng, s, nil); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !bytes.Equal(s.got, payload) {
		t.Fatal("Scatterer was not invoked with the verified payload")
	}
}
