package relay_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/inference"
	"github.com/chatrelay/chatrelay/pkg/llm"
	"github.com/chatrelay/chatrelay/pkg/ocr"
	"github.com/chatrelay/chatrelay/pkg/relay"
)

func chatErr(err error) *relay.ChatError {
	var ce *relay.ChatError
	Expect(errors.As(err, &ce)).To(BeTrue(), "expected *relay.ChatError, got %v", err)
	return ce
}

var _ = Describe("Relay", func() {
	var (
		ctx       context.Context
		secrets   staticSecrets
		extractor *fakeExtractor
		client    *fakeClient
		config    relay.Config
		history   []llm.Message
		image     string
	)

	newRelay := func() *relay.Relay {
		return relay.New(config, secrets, extractor, client, zap.NewNop())
	}

	BeforeEach(func() {
		ctx = context.Background()
		secrets = staticSecrets{inferenceKey: "gsk-test", accessSecret: "s3cret"}
		extractor = &fakeExtractor{text: "HOLA"}
		client = &fakeClient{resp: reply("Hola mundo")}
		config = relay.Config{Model: "llama3-8b-8192", AccessRequired: true}
		history = []llm.Message{
			{Role: llm.RoleUser, Content: "¿Qué hora es?"},
			{Role: llm.RoleAssistant, Content: "No lo sé."},
			{Role: llm.RoleUser, Content: "Traduce esto [ATTACHMENT: foto.png]"},
		}
		image = base64.StdEncoding.EncodeToString([]byte("\x89PNG fake image"))
	})

	Describe("validation", func() {
		It("rejects a missing message history", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{AccessKey: "s3cret"})
			ce := chatErr(err)
			Expect(ce.Kind).To(Equal(relay.KindBadRequest))
			Expect(ce.Status).To(Equal(http.StatusBadRequest))
			Expect(ce.Message).NotTo(BeEmpty())
			Expect(client.Calls()).To(BeZero())
		})

		It("rejects an empty message history", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: []llm.Message{}, AccessKey: "s3cret"})
			Expect(chatErr(err).Status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("access control", func() {
		DescribeTable("denies before any outbound call",
			func(key, secret string) {
				secrets.accessSecret = secret
				_, err := newRelay().Handle(ctx, &llm.ChatRequest{
					Messages:    history,
					AccessKey:   key,
					ImageBase64: image,
				})
				ce := chatErr(err)
				Expect(ce.Kind).To(Equal(relay.KindUnauthorized))
				Expect(ce.Status).To(Equal(http.StatusUnauthorized))
				Expect(ce.Message).To(Equal(relay.MsgUnauthorized))
				Expect(extractor.Calls()).To(BeZero())
				Expect(client.Calls()).To(BeZero())
			},
			Entry("wrong key", "nope", "s3cret"),
			Entry("missing key", "", "s3cret"),
			Entry("secret not configured", "s3cret", ""),
			Entry("nothing configured", "", ""),
		)

		It("lets everyone through when access is not required", func() {
			config.AccessRequired = false
			secrets.accessSecret = ""
			resp, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Reply).To(Equal("Hola mundo"))
		})
	})

	It("fails as misconfigured when the inference key is missing", func() {
		secrets.inferenceKey = ""
		_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
		ce := chatErr(err)
		Expect(ce.Kind).To(Equal(relay.KindMisconfigured))
		Expect(ce.Status).To(Equal(http.StatusInternalServerError))
		Expect(ce.Message).To(ContainSubstring("GROQ_API_KEY"))
		Expect(client.Calls()).To(BeZero())
	})

	Describe("request building", func() {
		It("sends the system prompt followed by the history in order", func() {
			resp, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(Equal(&llm.ChatResponse{Reply: "Hola mundo"}))

			sent := client.Last()
			Expect(sent.Model).To(Equal("llama3-8b-8192"))
			Expect(sent.Messages).To(HaveLen(len(history) + 1))
			Expect(sent.Messages[0]).To(Equal(llm.Message{Role: llm.RoleSystem, Content: relay.SystemPrompt}))
			Expect(sent.Messages[1:]).To(Equal(history))
			Expect(client.lastKey).To(Equal("gsk-test"))
			Expect(extractor.Calls()).To(BeZero())
		})

		It("uses the default model when none is configured", func() {
			config.Model = ""
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Last().Model).To(Equal(relay.DefaultModel))
		})

		It("prepends exactly one system message", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			Expect(err).NotTo(HaveOccurred())

			systems := 0
			for _, m := range client.Last().Messages {
				if m.Role == llm.RoleSystem {
					systems++
				}
			}
			Expect(systems).To(Equal(1))
		})
	})

	Describe("OCR enrichment", func() {
		It("frames the extracted text into the last message", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: image,
			})
			Expect(err).NotTo(HaveOccurred())

			sent := client.Last().Messages
			last := sent[len(sent)-1]
			Expect(last.Content).To(Equal(relay.FrameOCR("HOLA", "Traduce esto")))
			Expect(last.Content).To(ContainSubstring("HOLA"))
			Expect(last.Content).To(ContainSubstring("Traduce esto"))
			Expect(last.Content).NotTo(ContainSubstring("[ATTACHMENT:"))

			Expect(extractor.seen).To(HaveLen(1))
			Expect(extractor.seen[0]).To(Equal([]byte("\x89PNG fake image")))
		})

		It("leaves the earlier messages and the caller's slice untouched", func() {
			original := history[2].Content
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: image,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(history[2].Content).To(Equal(original))
			Expect(client.Last().Messages[1:3]).To(Equal(history[:2]))
		})

		It("accepts data URLs", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: "data:image/png;base64," + image,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(extractor.seen[0]).To(Equal([]byte("\x89PNG fake image")))
		})

		DescribeTable("replies with a notice and skips inference when no text is found",
			func(text string) {
				extractor.text = text
				resp, err := newRelay().Handle(ctx, &llm.ChatRequest{
					Messages:    history,
					AccessKey:   "s3cret",
					ImageBase64: image,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Reply).To(Equal(relay.OCRFailedReply))
				Expect(client.Calls()).To(BeZero())
			},
			Entry("empty", ""),
			Entry("whitespace only", "  \n\t "),
		)

		It("fails with an internal error when OCR fails", func() {
			extractor.err = errors.New("engine crashed")
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: image,
			})
			ce := chatErr(err)
			Expect(ce.Kind).To(Equal(relay.KindInternal))
			Expect(ce.Status).To(Equal(http.StatusInternalServerError))
			Expect(ce.Message).To(Equal(relay.MsgInternal))
			Expect(ce.Message).NotTo(ContainSubstring("engine crashed"))
			Expect(errors.Is(err, extractor.err)).To(BeTrue())
			Expect(client.Calls()).To(BeZero())
		})

		It("fails with an internal error on invalid base64", func() {
			_, err := newRelay().Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: "%%%",
			})
			Expect(chatErr(err).Kind).To(Equal(relay.KindInternal))
			Expect(extractor.Calls()).To(BeZero())
		})

		It("fails with an internal error when no extractor is configured", func() {
			r := relay.New(config, secrets, nil, client, zap.NewNop())
			_, err := r.Handle(ctx, &llm.ChatRequest{
				Messages:    history,
				AccessKey:   "s3cret",
				ImageBase64: image,
			})
			Expect(chatErr(err).Kind).To(Equal(relay.KindInternal))
		})
	})

	Describe("response translation", func() {
		It("mirrors upstream error statuses with the upstream message", func() {
			client.resp = nil
			client.err = &inference.UpstreamError{StatusCode: http.StatusUnauthorized, Message: "invalid key"}

			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			ce := chatErr(err)
			Expect(ce.Kind).To(Equal(relay.KindUpstream))
			Expect(ce.Status).To(Equal(http.StatusUnauthorized))
			Expect(ce.Message).To(ContainSubstring("401"))
			Expect(ce.Message).To(ContainSubstring("invalid key"))
		})

		It("falls back to a generic phrase when upstream gave no message", func() {
			client.resp = nil
			client.err = fmt.Errorf("wrapped: %w", &inference.UpstreamError{StatusCode: http.StatusServiceUnavailable})

			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			ce := chatErr(err)
			Expect(ce.Status).To(Equal(http.StatusServiceUnavailable))
			Expect(ce.Message).To(ContainSubstring("503"))
			Expect(ce.Message).To(ContainSubstring(relay.MsgUpstreamUnknown))
		})

		It("maps transport failures to a generic internal error", func() {
			client.resp = nil
			client.err = errors.New("dial tcp: connection refused")

			_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
			ce := chatErr(err)
			Expect(ce.Kind).To(Equal(relay.KindInternal))
			Expect(ce.Status).To(Equal(http.StatusInternalServerError))
			Expect(ce.Message).NotTo(ContainSubstring("connection refused"))
		})

		DescribeTable("reports a shape mismatch when the reply is missing",
			func(resp *llm.CompletionResponse) {
				client.resp = resp
				_, err := newRelay().Handle(ctx, &llm.ChatRequest{Messages: history, AccessKey: "s3cret"})
				ce := chatErr(err)
				Expect(ce.Kind).To(Equal(relay.KindShapeMismatch))
				Expect(ce.Status).To(Equal(http.StatusInternalServerError))
				Expect(ce.Message).To(ContainSubstring("unexpected response shape"))
			},
			Entry("no choices", &llm.CompletionResponse{}),
			Entry("no message", &llm.CompletionResponse{Choices: []llm.Choice{{}}}),
			Entry("no content", &llm.CompletionResponse{Choices: []llm.Choice{{Message: &llm.ChoiceMessage{Role: "assistant"}}}}),
			Entry("empty content", reply("")),
			Entry("nil response", nil),
		)
	})

	It("handles concurrent OCR requests through a shared worker", func() {
		engine := &slowEngine{text: "HOLA"}
		worker := ocr.NewWorker(func(context.Context) (ocr.Engine, error) { return engine, nil }, zap.NewNop())
		r := relay.New(config, secrets, worker, client, zap.NewNop())

		var wg sync.WaitGroup
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				resp, err := r.Handle(ctx, &llm.ChatRequest{
					Messages:    []llm.Message{{Role: llm.RoleUser, Content: "lee esto"}},
					AccessKey:   "s3cret",
					ImageBase64: image,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Reply).To(Equal("Hola mundo"))
			}()
		}
		wg.Wait()

		Expect(client.Calls()).To(Equal(12))
		Expect(engine.maxInFlight()).To(Equal(1))
		for _, req := range client.requests {
			Expect(req.Messages[len(req.Messages)-1].Content).To(ContainSubstring("HOLA"))
		}
	})
})

// slowEngine tracks the highest number of concurrent Recognize calls.
type slowEngine struct {
	mu       sync.Mutex
	text     string
	inFlight int
	peak     int
}

func (e *slowEngine) Name() string { return "slow" }

func (e *slowEngine) Recognize(context.Context, []byte) (string, error) {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.peak {
		e.peak = e.inFlight
	}
	e.mu.Unlock()

	time.Sleep(time.Millisecond)

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return e.text, nil
}

func (e *slowEngine) Close() error { return nil }

func (e *slowEngine) maxInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}
