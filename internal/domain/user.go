package domain

import "time"

// User — учётная запись клиента магазина.
type User struct {
	ID    string
	Login string
	Email string
	// PasswordHash хранит bcrypt-хэш; исходный пароль нигде не сохраняется.
	PasswordHash string
	CreatedAt    time.Time
}
