package mafia

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// NewSeed 生成加密安全的随机种子
func NewSeed() int64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		// 读取失败时退化为固定种子
		return 1
	}
	seed := int64(binary.BigEndian.Uint64(b[:]))
	if seed < 0 {
		seed = -seed
	}
	return seed
}

// Rand 对局内的确定性随机源
// 同一种子与同一调用序列产生完全相同的结果，用于回放与测试。
type Rand struct {
	seed int64
	r    *rand.Rand
}

// NewRand 创建确定性随机源
func NewRand(seed int64) *Rand {
	return &Rand{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// Seed 返回创建时的种子
func (r *Rand) Seed() int64 {
	return r.seed
}

// Intn 返回[0, n)内的随机整数
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return r.r.Intn(n)
}

// Float64 返回[0, 1)内的随机浮点数
func (r *Rand) Float64() float64 {
	return r.r.Float64()
}

// Pick 从候选列表中等概率选取一个
func (r *Rand) Pick(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[r.Intn(len(candidates))]
}

// Shuffle 原地洗牌
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	r.r.Shuffle(n, swap)
}

// biasDraw 对(actor, action, night)计算与调用顺序无关的确定性抽样值
// 返回[0, 1)内的值，同一种子下对同一参数永远返回同一结果。
func biasDraw(seed int64, actor string, action ActionKind, night int) float64 {
	h := fnv.New64a()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seed))
	h.Write(b[:])
	h.Write([]byte(actor))
	h.Write([]byte(action))
	binary.BigEndian.PutUint64(b[:], uint64(night))
	h.Write(b[:])
	return float64(h.Sum64()%1000000) / 1000000.0
}
