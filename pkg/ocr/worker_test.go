package ocr_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/ocr"
)

// fakeEngine records how many Recognize calls overlap.
type fakeEngine struct {
	text     string
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	overlaps atomic.Int32
	calls    atomic.Int32
	closed   atomic.Bool
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(_ context.Context, _ []byte) (string, error) {
	f.calls.Add(1)
	if f.inFlight.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.inFlight.Add(-1)
	time.Sleep(f.delay)
	return f.text, f.err
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

var _ = Describe("Worker", func() {
	var (
		ctx    context.Context
		engine *fakeEngine
		inits  atomic.Int32
		worker *ocr.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		engine = &fakeEngine{text: "  HOLA mundo \n"}
		inits.Store(0)
		worker = ocr.NewWorker(func(context.Context) (ocr.Engine, error) {
			inits.Add(1)
			return engine, nil
		}, zap.NewNop())
	})

	It("trims the recognized text", func() {
		text, err := worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("HOLA mundo"))
	})

	It("returns an empty string for whitespace-only output", func() {
		engine.text = " \n\t "
		text, err := worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(BeEmpty())
	})

	It("does not create the engine until first use", func() {
		Expect(inits.Load()).To(BeZero())
		_, err := worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		_, err = worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(inits.Load()).To(Equal(int32(1)))
	})

	It("wraps recognition errors", func() {
		engine.err = errors.New("boom")
		_, err := worker.Extract(ctx, []byte("img"))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("retries initialisation after a failure", func() {
		attempts := 0
		w := ocr.NewWorker(func(context.Context) (ocr.Engine, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("not ready")
			}
			return engine, nil
		}, zap.NewNop())

		_, err := w.Extract(ctx, []byte("img"))
		Expect(err).To(MatchError(ContainSubstring("not ready")))

		text, err := w.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("HOLA mundo"))
		Expect(attempts).To(Equal(2))
	})

	It("initialises once and serialises concurrent calls", func() {
		engine.delay = 2 * time.Millisecond

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				text, err := worker.Extract(ctx, []byte("img"))
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal("HOLA mundo"))
			}()
		}
		wg.Wait()

		Expect(inits.Load()).To(Equal(int32(1)))
		Expect(engine.calls.Load()).To(Equal(int32(16)))
		Expect(engine.overlaps.Load()).To(BeZero())
	})

	It("closes the engine and recreates it on next use", func() {
		_, err := worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())

		Expect(worker.Close()).To(Succeed())
		Expect(engine.closed.Load()).To(BeTrue())

		_, err = worker.Extract(ctx, []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(inits.Load()).To(Equal(int32(2)))
	})

	It("closes cleanly when never used", func() {
		Expect(worker.Close()).To(Succeed())
	})
})
