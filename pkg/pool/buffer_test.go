package pool

import "testing"

func TestFixedBufferPool(t *testing.T) {
	fp := NewFixedBuffer(1024)

	buf := fp.Get()
	if len(*buf) != 1024 {
		t.Fatalf("Get returned %d bytes, want 1024", len(*buf))
	}

	// A shortened slice must come back at full length on the next Get.
	*buf = (*buf)[:10]
	fp.Put(buf)

	again := fp.Get()
	if len(*again) != 1024 {
		t.Errorf("recycled buffer has %d bytes, want 1024", len(*again))
	}
	fp.Put(again)
}

func TestFixedBufferPoolRejectsForeignBuffers(t *testing.T) {
	fp := NewFixedBuffer(1024)

	foreign := make([]byte, 64)
	fp.Put(&foreign) // wrong capacity, silently dropped
	fp.Put(nil)
}
