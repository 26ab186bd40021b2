package data

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/visiontrain/visiontrain/internal/task"
)

// tagTransform appends its tag to the sample's "trace" value so chained
// application order is observable.
type tagTransform struct {
	tag string
}

func (t *tagTransform) Apply(sample task.Sample) (task.Sample, error) {
	trace, _ := sample["trace"].(string)
	sample["trace"] = trace + t.tag
	return sample, nil
}

func (t *tagTransform) Copy() Transform { return &tagTransform{tag: t.tag} }

// noiseTransform draws one value from its RNG per application.
type noiseTransform struct {
	RandomizedTransform
}

func (t *noiseTransform) Apply(sample task.Sample) (task.Sample, error) {
	sample["noise"] = t.RNG().Float64()
	return sample, nil
}

func (t *noiseTransform) Copy() Transform { return &noiseTransform{} }

var _ = Describe("Transforms", func() {
	Describe("Compose", func() {
		It("applies members in order", func() {
			chain := Compose{&tagTransform{tag: "a"}, &tagTransform{tag: "b"}, &tagTransform{tag: "c"}}
			out, err := chain.Apply(task.Sample{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["trace"]).To(Equal("abc"))
		})

		It("skips nil members", func() {
			chain := Compose{nil, &tagTransform{tag: "x"}}
			out, err := chain.Apply(task.Sample{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["trace"]).To(Equal("x"))
		})

		It("stops at the first failing member", func() {
			boom := FuncTransform(func(task.Sample) (task.Sample, error) {
				return nil, fmt.Errorf("boom")
			})
			chain := Compose{&tagTransform{tag: "a"}, boom, &tagTransform{tag: "b"}}
			_, err := chain.Apply(task.Sample{})
			Expect(err).To(MatchError("boom"))
		})

		It("copies members independently", func() {
			original := Compose{&tagTransform{tag: "a"}}
			copied := original.Copy().(Compose)
			copied[0].(*tagTransform).tag = "z"
			Expect(original[0].(*tagTransform).tag).To(Equal("a"))
		})

		It("seeds members with a per-position offset", func() {
			first := &noiseTransform{}
			second := &noiseTransform{}
			Compose{first, second}.Seed(42)
			firstDraw := first.RNG().Float64()
			secondDraw := second.RNG().Float64()

			// The second member runs under seed+1.
			reference := &noiseTransform{}
			reference.Seed(43)
			Expect(secondDraw).To(Equal(reference.RNG().Float64()))
			Expect(firstDraw).NotTo(Equal(secondDraw))
		})
	})

	Describe("registry", func() {
		It("builds registered transforms from config stages", func() {
			RegisterTransform("tag", func(params map[string]any) (Transform, error) {
				tag, _ := params["tag"].(string)
				return &tagTransform{tag: tag}, nil
			})
			chain, err := LoadTransforms([]any{
				map[string]any{"type": "tag", "params": map[string]any{"tag": "1"}},
				map[string]any{"type": "tag", "params": map[string]any{"tag": "2"}},
			})
			Expect(err).NotTo(HaveOccurred())
			out, err := chain.Apply(task.Sample{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["trace"]).To(Equal("12"))
		})

		It("rejects unknown transform types", func() {
			_, err := LoadTransforms([]any{map[string]any{"type": "nope"}})
			var unknown *UnknownTypeError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.Kind).To(Equal("transform"))
		})

		It("rejects stages without a type", func() {
			_, err := LoadTransforms([]any{map[string]any{"params": map[string]any{}}})
			Expect(err).To(MatchError(ContainSubstring("missing 'type'")))
		})
	})

	Describe("collate", func() {
		It("stacks samples and keeps their indices", func() {
			samples := []task.Sample{{"x": 1}, {"x": 2}}
			batch, err := DefaultCollate(samples, []int{7, 9})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Size()).To(Equal(2))
			Expect(batch.Indices).To(Equal([]int{7, 9}))
			Expect(batch.Samples[1]["x"]).To(Equal(2))
		})

		It("resolves registered collates by name", func() {
			collate, err := NewCollate(DefaultCollateName)
			Expect(err).NotTo(HaveOccurred())
			Expect(collate).NotTo(BeNil())
		})

		It("rejects unknown collate names", func() {
			_, err := NewCollate("bogus")
			Expect(err).To(HaveOccurred())
		})
	})
})
