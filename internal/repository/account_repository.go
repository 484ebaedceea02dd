package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/accounts/internal/models"
	"github.com/sirupsen/logrus"
)

const accountPrefix = "ACCOUNT#"

type AccountRepository struct {
	client    DynamoDBAPI
	tableName string
	indexes   Indexes
	logger    *logrus.Logger
}

func NewAccountRepository(client DynamoDBAPI, tableName string, indexes Indexes, logger *logrus.Logger) *AccountRepository {
	return &AccountRepository{
		client:    client,
		tableName: tableName,
		indexes:   indexes,
		logger:    logger,
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal account for DynamoDB")
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	item["PK"] = stringValue(account.GetPK())
	item["SK"] = stringValue(account.GetSK())

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("account %s already exists: %w", account.ID, ErrConditionFailed)
		}
		r.logger.WithError(err).Error("Failed to create account in DynamoDB")
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByID returns nil, nil when no account has this id.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(accountPrefix + id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get account from DynamoDB")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &account); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal account from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// FindByEmailOrPhone returns every account, verified or not, that matches
// either the email or the phone. Empty values are not looked up.
func (r *AccountRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) ([]models.Account, error) {
	seen := make(map[string]struct{})
	var accounts []models.Account

	lookups := []struct {
		index, attr, value string
	}{
		{r.indexes.Email, "email", email},
		{r.indexes.Phone, "phone", phone},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		found, err := r.queryIndex(ctx, l.index, l.attr, l.value, nil)
		if err != nil {
			return nil, err
		}
		for _, a := range found {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			accounts = append(accounts, a)
		}
	}

	return accounts, nil
}

// FindVerified returns the verified account owning the email or the phone,
// or nil when there is none.
func (r *AccountRepository) FindVerified(ctx context.Context, email, phone string) (*models.Account, error) {
	accounts, err := r.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if accounts[i].Verified {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// ListUnverified returns unverified accounts matching the email or the phone,
// newest first. A zero since disables the creation-time filter.
func (r *AccountRepository) ListUnverified(ctx context.Context, email, phone string, since time.Time) ([]models.Account, error) {
	accounts, err := r.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	pending := accounts[:0]
	for _, a := range accounts {
		if a.Verified {
			continue
		}
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		pending = append(pending, a)
	}

	SortNewestFirst(pending)
	return pending, nil
}

// SortNewestFirst orders by creation time, falling back to the time-ordered id
// when two rows were created within the same second.
func SortNewestFirst(accounts []models.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
		}
		return accounts[i].ID > accounts[j].ID
	})
}

// DeleteUnverified removes the account only if it is still unverified.
func (r *AccountRepository) DeleteUnverified(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(accountPrefix + id),
		ConditionExpression: aws.String("verified = :false"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":false": boolValue(false),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}

	return nil
}

// MarkVerified flips the account to verified and clears the code in a single
// write, provided it is still pending with the same code.
func (r *AccountRepository) MarkVerified(ctx context.Context, id, code string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(accountPrefix + id),
		UpdateExpression:    aws.String("SET verified = :true, updated_at = :now REMOVE verification_code, verification_code_expire"),
		ConditionExpression: aws.String("attribute_exists(PK) AND verified = :false AND verification_code = :code"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  boolValue(true),
			":false": boolValue(false),
			":code":  stringValue(code),
			":now":   unixValue(time.Now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		r.logger.WithError(err).Error("Failed to verify account in DynamoDB")
		return fmt.Errorf("failed to verify account: %w", err)
	}

	return nil
}

func (r *AccountRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(accountPrefix + id),
		UpdateExpression:    aws.String("SET reset_password_token = :hash, reset_password_expire = :expire, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash":   stringValue(tokenHash),
			":expire": unixValue(expiresAt),
			":now":    unixValue(time.Now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	return nil
}

// ClearResetToken removes the reset token only while tokenHash is still the
// stored one, so a newer token issued in between survives.
func (r *AccountRepository) ClearResetToken(ctx context.Context, id, tokenHash string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(accountPrefix + id),
		UpdateExpression:    aws.String("SET updated_at = :now REMOVE reset_password_token, reset_password_expire"),
		ConditionExpression: aws.String("attribute_exists(PK) AND reset_password_token = :hash"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":  unixValue(time.Now()),
			":hash": stringValue(tokenHash),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to clear reset token: %w", err)
	}

	return nil
}

// FindByResetToken returns the account holding this token hash if the token
// has not expired at now, or nil.
func (r *AccountRepository) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	accounts, err := r.queryIndex(ctx, r.indexes.ResetToken, "reset_password_token", tokenHash, &now)
	if err != nil {
		return nil, err
	}

	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// ResetPassword swaps the password hash and consumes the reset token. The
// write only lands while the token is still the current, unexpired one.
func (r *AccountRepository) ResetPassword(ctx context.Context, id, tokenHash, passwordHash string, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(accountPrefix + id),
		UpdateExpression:    aws.String("SET password_hash = :password, updated_at = :now REMOVE reset_password_token, reset_password_expire"),
		ConditionExpression: aws.String("reset_password_token = :hash AND reset_password_expire > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":password": stringValue(passwordHash),
			":hash":     stringValue(tokenHash),
			":now":      unixValue(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		r.logger.WithError(err).Error("Failed to reset password in DynamoDB")
		return fmt.Errorf("failed to reset password: %w", err)
	}

	return nil
}

// DeleteStaleUnverified removes every unverified account created before the
// cutoff and returns how many were deleted. Rows verified between the scan and
// the delete are left alone.
func (r *AccountRepository) DeleteStaleUnverified(ctx context.Context, before time.Time) (int, error) {
	values := map[string]types.AttributeValue{
		":prefix": stringValue(accountPrefix),
		":false":  boolValue(false),
		":before": unixValue(before),
	}

	deleted := 0
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          aws.String("begins_with(PK, :prefix) AND verified = :false AND created_at < :before"),
			ProjectionExpression:      aws.String("PK, SK"),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to scan stale accounts: %w", err)
		}

		for _, item := range result.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:           aws.String(r.tableName),
				Key:                 map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
				ConditionExpression: aws.String("verified = :false AND created_at < :before"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":false":  values[":false"],
					":before": values[":before"],
				},
			})
			if err != nil {
				if isConditionFailed(err) {
					continue
				}
				return deleted, fmt.Errorf("failed to delete stale account: %w", err)
			}
			deleted++
		}

		if len(result.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

func (r *AccountRepository) queryIndex(ctx context.Context, index, attr, value string, notExpiredAt *time.Time) ([]models.Account, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#attr = :value"),
		ExpressionAttributeNames: map[string]string{
			"#attr": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": stringValue(value),
		},
	}
	if notExpiredAt != nil {
		input.FilterExpression = aws.String("reset_password_expire > :now")
		input.ExpressionAttributeValues[":now"] = unixValue(*notExpiredAt)
	}

	var accounts []models.Account
	for {
		result, err := r.client.Query(ctx, input)
		if err != nil {
			r.logger.WithError(err).WithField("index", index).Error("Failed to query accounts")
			return nil, fmt.Errorf("failed to query %s: %w", index, err)
		}

		var page []models.Account
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
		}
		accounts = append(accounts, page...)

		if len(result.LastEvaluatedKey) == 0 {
			return accounts, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
