package reliability

import (
	"bytes"
	"testing"
)

func TestReorderBufferInOrderDelivery(t *testing.T) {
	rb := NewReorderBuffer()

	deliverable, dup := rb.Receive(1, []byte("a"))
	if dup {
		t.Fatal("unexpected duplicate")
	}
	if len(deliverable) != 1 || !bytes.Equal(deliverable[0], []byte("a")) {
		t.Fatalf("expected immediate delivery of seq 1, got %+v", deliverable)
	}

	deliverable, _ = rb.Receive(2, []byte("b"))
	if len(deliverable) != 1 || !bytes.Equal(deliverable[0], []byte("b")) {
		t.Fatalf("expected immediate delivery of seq 2, got %+v", deliverable)
	}

	if rb.LastDelivered() != 2 {
		t.Errorf("expected lastDelivered=2, got %d", rb.LastDelivered())
	}
}

func TestReorderBufferOutOfOrderThenFill(t *testing.T) {
	rb := NewReorderBuffer()

	deliverable, dup := rb.Receive(2, []byte("b"))
	if dup {
		t.Fatal("unexpected duplicate")
	}
	if len(deliverable) != 0 {
		t.Fatalf("expected nothing deliverable while seq 1 is missing, got %+v", deliverable)
	}
	if rb.BufferedCount() != 1 {
		t.Errorf("expected 1 buffered entry, got %d", rb.BufferedCount())
	}

	deliverable, _ = rb.Receive(1, []byte("a"))
	if len(deliverable) != 2 {
		t.Fatalf("expected both seq 1 and 2 delivered after gap fill, got %d", len(deliverable))
	}
	if !bytes.Equal(deliverable[0], []byte("a")) || !bytes.Equal(deliverable[1], []byte("b")) {
		t.Errorf("expected in-order payloads [a, b], got %+v", deliverable)
	}
	if rb.BufferedCount() != 0 {
		t.Errorf("expected buffer drained, got %d entries", rb.BufferedCount())
	}
}

func TestReorderBufferDuplicateDetection(t *testing.T) {
	rb := NewReorderBuffer()
	rb.Receive(1, []byte("a"))

	_, dup := rb.Receive(1, []byte("a"))
	if !dup {
		t.Error("expected duplicate detection for already-delivered seq")
	}

	rb.Receive(3, []byte("c"))
	_, dup = rb.Receive(3, []byte("c"))
	if !dup {
		t.Error("expected duplicate detection for already-buffered seq")
	}
}

func TestReorderBufferBuildAck(t *testing.T) {
	rb := NewReorderBuffer()
	rb.Receive(1, []byte("a"))
	rb.Receive(3, []byte("c"))
	rb.Receive(5, []byte("e"))

	ack := rb.BuildAck()
	if ack.UpTo != 1 {
		t.Errorf("expected UpTo=1, got %d", ack.UpTo)
	}
	if len(ack.Selective) != 2 || ack.Selective[0] != 3 || ack.Selective[1] != 5 {
		t.Errorf("expected selective [3, 5], got %+v", ack.Selective)
	}
}
