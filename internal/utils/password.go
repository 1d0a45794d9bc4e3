package utils

import (
	"math/rand/v2"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword bcrypt 加密
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword 校验明文与 hash 是否匹配
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var avatars = []string{"🌱", "🌿", "🍃", "🌾", "🎋", "🌲", "🌳", "🦊", "🐨", "🐸", "🦉", "🐱"}

// RandomAvatar 新用户默认头像
func RandomAvatar() string {
	return avatars[rand.IntN(len(avatars))]
}
