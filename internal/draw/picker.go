package draw

import (
	crand "crypto/rand"
	"math/big"
	"math/rand/v2"
)

// Picker выбирает индекс из диапазона [0, n).
type Picker interface {
	Pick(n int) int
}

// PickerFunc позволяет использовать функцию как Picker.
type PickerFunc func(n int) int

// Pick вызывает f(n).
func (f PickerFunc) Pick(n int) int {
	return f(n)
}

// CryptoPicker выбирает индекс равномерно с помощью crypto/rand.
type CryptoPicker struct{}

// Pick возвращает случайный индекс в [0, n).
func (CryptoPicker) Pick(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return int(v.Int64())
}

// SeededPicker даёт воспроизводимую последовательность выборов для одного и того же seed.
type SeededPicker struct {
	rnd *rand.Rand
}

// NewSeededPicker создаёт Picker на основе PCG с указанным seed.
func NewSeededPicker(seed uint64) *SeededPicker {
	return &SeededPicker{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick возвращает псевдослучайный индекс в [0, n).
func (p *SeededPicker) Pick(n int) int {
	return p.rnd.IntN(n)
}
