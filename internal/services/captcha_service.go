package services

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// CaptchaService 注册时使用的算术验证码，答案保存在 session 中
type CaptchaService struct {
	rnd *rand.Rand
}

func NewCaptchaService() *CaptchaService {
	return &CaptchaService{rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewCaptchaServiceSeeded 测试用，固定种子
func NewCaptchaServiceSeeded(seed uint64) *CaptchaService {
	return &CaptchaService{rnd: rand.New(rand.NewPCG(seed, seed))}
}

// Generate 返回题目（如 "3 + 5"）和答案，减法结果不为负
func (s *CaptchaService) Generate() (string, int) {
	a := s.rnd.IntN(10)
	b := s.rnd.IntN(10)
	if s.rnd.IntN(2) == 0 {
		return fmt.Sprintf("%d + %d", a, b), a + b
	}
	if a < b {
		a, b = b, a
	}
	return fmt.Sprintf("%d - %d", a, b), a - b
}

// Verify 比较用户输入与 session 中的答案
func (s *CaptchaService) Verify(expected any, input string) bool {
	answer, ok := expected.(int)
	if !ok {
		return false
	}
	got, err := strconv.Atoi(strings.TrimSpace(input))
	return err == nil && got == answer
}
