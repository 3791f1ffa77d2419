package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"interviewsim/internal/model"
	"interviewsim/internal/pkg/jwtutil"
)

type fakeUserStore struct {
	nextID uint
	users  map[uint]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{nextID: 1, users: make(map[uint]*model.User)}
}

func (f *fakeUserStore) Create(user *model.User) error {
	user.ID = f.nextID
	f.nextID++
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserStore) GetByID(id uint) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUserStore) GetByUsername(username string) (*model.User, error) {
	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) GetByEmail(email string) (*model.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, nil
}

const testSecret = "unit-test-secret"

func TestRegisterIssuesToken(t *testing.T) {
	store := newFakeUserStore()
	service := NewAuthService(store, testSecret, time.Hour)

	result, err := service.Register(RegisterInput{
		Username: "jane",
		Email:    "Jane@Example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane", result.User.Username)
	assert.Equal(t, "jane@example.com", result.User.Email)
	assert.NotEqual(t, "correct horse battery", result.User.PasswordHash)

	claims, err := jwtutil.ParseToken(testSecret, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, "jane", claims.Username)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	service := NewAuthService(newFakeUserStore(), testSecret, time.Hour)

	_, err := service.Register(RegisterInput{
		Username: "jane",
		Email:    "jane@example.com",
		Password: "short",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	store := newFakeUserStore()
	service := NewAuthService(store, testSecret, time.Hour)

	_, err := service.Register(RegisterInput{
		Username: "jane",
		Email:    "jane@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	_, err = service.Register(RegisterInput{
		Username: "jane",
		Email:    "other@example.com",
		Password: "correct horse battery",
	})
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = service.Register(RegisterInput{
		Username: "janet",
		Email:    "jane@example.com",
		Password: "correct horse battery",
	})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestLoginVerifiesPassword(t *testing.T) {
	store := newFakeUserStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.Create(&model.User{
		Username:     "jane",
		Email:        "jane@example.com",
		PasswordHash: string(hash),
	}))

	service := NewAuthService(store, testSecret, time.Hour)

	result, err := service.Login(LoginInput{Username: "jane", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	_, err = service.Login(LoginInput{Username: "jane", Password: "wrong password"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = service.Login(LoginInput{Username: "nobody", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
