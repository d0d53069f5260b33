package divergence

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func unitRows(n, d int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, d)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		rows[i] = unitNormalize(row)
	}
	return rows
}

func TestAnchorIdenticalTarget(t *testing.T) {
	rows := unitRows(8, 4, 1)
	source := mustSet(t, "Gutenberg", rows)
	target := mustSet(t, "Kaufmann", rows)
	anchor, err := NewAnchor(source, map[string]*EmbeddingSet{"Kaufmann": target})
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}

	for _, v := range anchor.TranslationOffsets()["Kaufmann"] {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("identical target should have zero offset, got %v", v)
		}
	}
	for i, q := range anchor.TranslationQuality()["Kaufmann"] {
		if q != 1 {
			t.Fatalf("passage %d: quality %v, want 1 for a perfectly regular target", i, q)
		}
	}
	sims, err := anchor.TriangulateMeaning(0)
	if err != nil {
		t.Fatalf("TriangulateMeaning: %v", err)
	}
	if math.Abs(sims["Kaufmann"]-1) > 1e-12 {
		t.Fatalf("single-target centroid similarity %v, want 1", sims["Kaufmann"])
	}
	spread, err := anchor.TriangulationSpread(0)
	if err != nil {
		t.Fatalf("TriangulationSpread: %v", err)
	}
	if spread != 0 {
		t.Fatalf("single-target spread %v, want 0", spread)
	}
}

func TestTranslationOffsetsAndAlignment(t *testing.T) {
	rows := unitRows(10, 5, 2)
	shift := []float64{0.2, -0.1, 0.05, 0, 0.3}
	shifted := make([][]float64, len(rows))
	for i, row := range rows {
		out := make([]float64, len(row))
		copy(out, row)
		for j := range out {
			out[j] += shift[j]
		}
		shifted[i] = out
	}
	source := mustSet(t, "Gutenberg", rows)
	target := mustSet(t, "Kaufmann", shifted)
	anchor, err := NewAnchor(source, map[string]*EmbeddingSet{"Kaufmann": target})
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}

	offset := anchor.TranslationOffsets()["Kaufmann"]
	for j := range shift {
		if math.Abs(offset[j]-shift[j]) > 1e-12 {
			t.Fatalf("offset dim %d: got %v, want %v", j, offset[j], shift[j])
		}
	}

	aligned, err := AlignToSource(target, offset)
	if err != nil {
		t.Fatalf("AlignToSource: %v", err)
	}
	for i := 0; i < source.Len(); i++ {
		want, got := source.Vector(i), aligned.Vector(i)
		for j := range want {
			if math.Abs(got[j]-want[j]) > 1e-9 {
				t.Fatalf("aligned row %d dim %d: got %v, want %v", i, j, got[j], want[j])
			}
		}
	}
}

func TestAlignToSourceDimensionMismatch(t *testing.T) {
	set := mustSet(t, "Kaufmann", unitRows(3, 4, 3))
	if _, err := AlignToSource(set, []float64{1, 2}); err == nil {
		t.Fatal("expected error for mismatched offset dimension")
	}
}

func TestTranslationQualityFlagsDeviantPassage(t *testing.T) {
	rows := unitRows(12, 6, 4)
	shifted := make([][]float64, len(rows))
	for i, row := range rows {
		out := make([]float64, len(row))
		copy(out, row)
		out[0] += 0.1
		shifted[i] = out
	}
	// One passage drifts far beyond the translator's usual offset.
	shifted[5][1] += 2.0
	source := mustSet(t, "Gutenberg", rows)
	target := mustSet(t, "Kaufmann", shifted)
	anchor, err := NewAnchor(source, map[string]*EmbeddingSet{"Kaufmann": target})
	if err != nil {
		t.Fatalf("NewAnchor: %v", err)
	}

	quality := anchor.TranslationQuality()["Kaufmann"]
	for i, q := range quality {
		if q < 0 || q > 1 {
			t.Fatalf("passage %d: quality %v outside [0,1]", i, q)
		}
		if i != 5 && quality[5] >= q {
			t.Fatalf("deviant passage 5 (%v) should score below passage %d (%v)", quality[5], i, q)
		}
	}
}

func TestProcrustesRecoversRotation(t *testing.T) {
	theta := math.Pi / 6
	r := mat.NewDense(3, 3, []float64{
		math.Cos(theta), -math.Sin(theta), 0,
		math.Sin(theta), math.Cos(theta), 0,
		0, 0, 1,
	})
	rows := unitRows(20, 3, 5)
	source := mustSet(t, "Gutenberg", rows)
	rotated := mat.NewDense(20, 3, nil)
	rotated.Mul(source.matrix(), r)
	target := source.withVectors(rotated)

	w, err := ProcrustesAlignment(source, target)
	if err != nil {
		t.Fatalf("ProcrustesAlignment: %v", err)
	}
	var mapped mat.Dense
	mapped.Mul(source.matrix(), w)
	for i := 0; i < 20; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(mapped.At(i, j)-target.matrix().At(i, j)) > 1e-9 {
				t.Fatalf("rotation not recovered at (%d,%d): %v vs %v",
					i, j, mapped.At(i, j), target.matrix().At(i, j))
			}
		}
	}
}

func TestNewAnchorValidation(t *testing.T) {
	source := mustSet(t, "Gutenberg", unitRows(4, 3, 6))
	if _, err := NewAnchor(source, nil); err == nil {
		t.Fatal("expected error with no targets")
	}
	short := mustSet(t, "Kaufmann", unitRows(3, 3, 7))
	if _, err := NewAnchor(source, map[string]*EmbeddingSet{"Kaufmann": short}); err == nil {
		t.Fatal("expected error for misaligned target length")
	}
}
