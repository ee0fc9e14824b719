package expense

import "math"

// welfordAdd 向运行统计量追加一个观测值（Welford 增量公式）
func welfordAdd(count int64, mean, m2, x float64) (int64, float64, float64) {
	count++
	delta := x - mean
	mean += delta / float64(count)
	m2 += delta * (x - mean)
	return count, mean, m2
}

// welfordStddev 样本标准差；样本数不足 2 时为 0
func welfordStddev(count int64, m2 float64) float64 {
	if count < 2 {
		return 0
	}
	return math.Sqrt(m2 / float64(count-1))
}
