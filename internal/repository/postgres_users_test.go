package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"veribill/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockUsersDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresUsersRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresUsersRepository(db)
}

func walletRows(balance float64, count, credits int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"wallet_balance", "verification_count", "free_verifications_earned"}).
		AddRow(balance, count, credits)
}

// ============================================
// Settle：扣费路径
// ============================================

func TestSettle_ChargesFee(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(100.00, 3, 0))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 95.00, 4, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), userID, 5.00, false, 10)

	require.NoError(t, err)
	assert.Equal(t, 95.00, result.NewBalance)
	assert.Equal(t, 5.00, result.FeeCharged)
	assert.False(t, result.WasFree)
	assert.Equal(t, 4, result.VerificationCount)
	assert.False(t, result.EarnedFreeCredit)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_InsufficientBalance(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(2.00, 3, 0))
	mock.ExpectRollback()

	result, err := repo.Settle(context.Background(), userID, 5.00, false, 10)

	assert.Nil(t, result)
	var insufficientErr *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 5.00, insufficientErr.Required)
	assert.Equal(t, 2.00, insufficientErr.Available)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_UserNotFound(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	result, err := repo.Settle(context.Background(), userID, 5.00, false, 10)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// Settle：忠诚度边界
// ============================================

func TestSettle_LoyaltyBoundary(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	// 第 10 次校验：计数 9 -> 10，赚到一次免费额度
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(50.00, 9, 0))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 45.00, 10, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), userID, 5.00, false, 10)
	require.NoError(t, err)
	assert.True(t, result.EarnedFreeCredit)
	assert.Equal(t, 10, result.VerificationCount)

	// 第 11 次：不再发放
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(45.00, 10, 1))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 40.00, 11, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err = repo.Settle(context.Background(), userID, 5.00, false, 10)
	require.NoError(t, err)
	assert.False(t, result.EarnedFreeCredit)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_LoyaltySecondInterval(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	// 第 20 次校验再次发放
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(30.00, 19, 0))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 25.00, 20, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), userID, 5.00, false, 10)
	require.NoError(t, err)
	assert.True(t, result.EarnedFreeCredit)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// Settle：免费额度
// ============================================

func TestSettle_ConsumesCredit(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(50.00, 12, 2))
	// 余额不动，额度 2 -> 1，计数 +1
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 50.00, 13, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), userID, 5.00, true, 10)

	require.NoError(t, err)
	assert.True(t, result.WasFree)
	assert.Equal(t, 0.00, result.FeeCharged)
	assert.Equal(t, 50.00, result.NewBalance)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_CreditRaceFallsBackToCharge(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	// 定价时看到有额度，锁内已被并发请求用光：回退为扣费
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(walletRows(50.00, 12, 0))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 45.00, 13, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Settle(context.Background(), userID, 5.00, true, 10)

	require.NoError(t, err)
	assert.False(t, result.WasFree)
	assert.Equal(t, 5.00, result.FeeCharged)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// Deduct / Credit
// ============================================

func TestDeduct_Success(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10.00))
	mock.ExpectExec(`UPDATE users`).
		WithArgs(userID, 9.50).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Deduct(context.Background(), userID, 0.50)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeduct_InsufficientBalance(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT wallet_balance`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(0.25))
	mock.ExpectRollback()

	err := repo.Deduct(context.Background(), userID, 0.50)

	var insufficientErr *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 0.50, insufficientErr.Required)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit_Success(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectQuery(`UPDATE users`).
		WithArgs(userID, 100.00).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(150.00))

	newBalance, err := repo.Credit(context.Background(), userID, 100.00)
	require.NoError(t, err)
	assert.Equal(t, 150.00, newBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUser_NotFound(t *testing.T) {
	db, mock, repo := setupMockUsersDB(t)
	defer db.Close()

	userID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	user, err := repo.GetUser(context.Background(), userID)
	assert.Nil(t, user)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// 空 userID 不触发查询
	user, err = repo.GetUser(context.Background(), "")
	assert.Nil(t, user)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}
