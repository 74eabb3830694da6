package history

import (
	"reflect"
	"testing"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestDownsample_WithinCapUnchanged(t *testing.T) {
	for _, n := range []int{0, 1, 199, 200} {
		in := seq(n)
		got := Downsample(in, 200)
		if !reflect.DeepEqual(got, in) {
			t.Errorf("n=%d: Downsample changed input", n)
		}
	}
}

func TestDownsample_NonPositiveCapUnchanged(t *testing.T) {
	in := seq(10)
	if got := Downsample(in, 0); !reflect.DeepEqual(got, in) {
		t.Errorf("cap 0: got %v", got)
	}
	if got := Downsample(in, -1); !reflect.DeepEqual(got, in) {
		t.Errorf("cap -1: got %v", got)
	}
}

func TestDownsample_ThousandToTwoHundred(t *testing.T) {
	got := Downsample(seq(1000), 200)

	if len(got) != 200 {
		t.Fatalf("len = %d; want 200", len(got))
	}
	for i, v := range got {
		if v != i*5 {
			t.Fatalf("got[%d] = %d; want %d", i, v, i*5)
		}
	}
	if got[len(got)-1] != 995 {
		t.Errorf("last = %d; want 995", got[len(got)-1])
	}
}

func TestDownsample_Properties(t *testing.T) {
	tests := []struct {
		n, cap int
	}{
		{n: 201, cap: 200},
		{n: 401, cap: 200},
		{n: 999, cap: 7},
		{n: 50000, cap: 200},
		{n: 30001, cap: 200},
		{n: 5, cap: 1},
		{n: 3, cap: 2},
	}
	for _, tt := range tests {
		in := seq(tt.n)
		got := Downsample(in, tt.cap)

		if len(got) > tt.cap+1 && len(got) > tt.n {
			t.Errorf("n=%d cap=%d: len = %d exceeds max(cap+1, n)", tt.n, tt.cap, len(got))
		}
		if len(got) > tt.cap {
			t.Errorf("n=%d cap=%d: len = %d exceeds cap", tt.n, tt.cap, len(got))
		}
		if len(got) == 0 || got[0] != 0 {
			t.Errorf("n=%d cap=%d: first element must be input[0]", tt.n, tt.cap)
		}
		for i := 1; i < len(got); i++ {
			if got[i] <= got[i-1] {
				t.Fatalf("n=%d cap=%d: output not an ordered subsequence at %d", tt.n, tt.cap, i)
			}
		}
		stride := (tt.n + tt.cap - 1) / tt.cap
		if want := (tt.n + stride - 1) / stride; len(got) != want {
			t.Errorf("n=%d cap=%d: len = %d; want ceil(n/stride) = %d", tt.n, tt.cap, len(got), want)
		}
	}
}

func TestDownsample_Deterministic(t *testing.T) {
	in := seq(12345)
	a := Downsample(in, 200)
	b := Downsample(in, 200)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("Downsample returned different results for identical input")
	}
	if !reflect.DeepEqual(in, seq(12345)) {
		t.Fatal("Downsample modified its input")
	}
}
