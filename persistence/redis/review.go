package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/model"
	"github.com/mohitkumar/loanflow/persistence"
	"github.com/mohitkumar/loanflow/util"
	"go.uber.org/zap"
)

const REVIEW_KEY string = "REVIEW"
const REVIEW_MEMBER_KEY string = "REVIEW_MEMBER"
const REVIEW_MEMBER_IDS_KEY string = "REVIEW_MEMBER_IDS"
const REVIEW_COMMENTS_KEY string = "REVIEW_COMMENTS"
const REVIEW_DOCUMENTS_KEY string = "REVIEW_DOCUMENTS"
const OPEN_REVIEWS_KEY string = "OPEN_REVIEWS"
const OPEN_REVIEW_APPLICATION_KEY string = "OPEN_REVIEW_APPLICATION"
const PENDING_HANDOFF_KEY string = "PENDING_HANDOFF_REVIEWS"

var _ persistence.ReviewStorage = new(redisReviewStorage)

// Each member lives under its own key so that votes of different members
// never touch the same watched key.
type redisReviewStorage struct {
	*baseDao
	reviewEncDec   util.EncoderDecoder[model.CommitteeReview]
	memberEncDec   util.EncoderDecoder[model.CommitteeMember]
	commentEncDec  util.EncoderDecoder[model.CommitteeComment]
	documentEncDec util.EncoderDecoder[model.CommitteeDocument]
}

func newRedisReviewStorage(base *baseDao) *redisReviewStorage {
	return &redisReviewStorage{
		baseDao:        base,
		reviewEncDec:   util.NewJsonEncoderDecoder[model.CommitteeReview](),
		memberEncDec:   util.NewJsonEncoderDecoder[model.CommitteeMember](),
		commentEncDec:  util.NewJsonEncoderDecoder[model.CommitteeComment](),
		documentEncDec: util.NewJsonEncoderDecoder[model.CommitteeDocument](),
	}
}

func (r *redisReviewStorage) reviewKey(id string) string {
	return r.getNamespaceKey(REVIEW_KEY, id)
}

func (r *redisReviewStorage) memberKey(reviewId string, userId string) string {
	return r.getNamespaceKey(REVIEW_MEMBER_KEY, reviewId, userId)
}

func header(review *model.CommitteeReview) model.CommitteeReview {
	h := *review
	h.Members = nil
	h.Comments = nil
	h.Documents = nil
	return h
}

func (r *redisReviewStorage) CreateReview(ctx context.Context, review *model.CommitteeReview) error {
	appKey := r.getNamespaceKey(OPEN_REVIEW_APPLICATION_KEY, review.ApplicationId)
	key := r.reviewKey(review.Id)
	return r.watch(ctx, "application", review.ApplicationId, func(tx *rd.Tx) error {
		existing, err := tx.Get(ctx, appKey).Result()
		if err != nil && !errors.Is(err, rd.Nil) {
			return err
		}
		if err == nil {
			return api.ConflictError{Entity: "application", Id: review.ApplicationId, Reason: fmt.Sprintf("review %s is in progress", existing)}
		}
		review.Version = 1
		data, err := r.reviewEncDec.Encode(header(review))
		if err != nil {
			return err
		}
		members := make(map[string][]byte, len(review.Members))
		ids := make([]interface{}, 0, len(review.Members))
		for i := range review.Members {
			review.Members[i].Version = 1
			md, err := r.memberEncDec.Encode(review.Members[i])
			if err != nil {
				return err
			}
			members[review.Members[i].UserId] = md
			ids = append(ids, review.Members[i].UserId)
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			for userId, md := range members {
				pipe.Set(ctx, r.memberKey(review.Id, userId), md, 0)
			}
			if len(ids) > 0 {
				pipe.RPush(ctx, r.getNamespaceKey(REVIEW_MEMBER_IDS_KEY, review.Id), ids...)
			}
			if review.Status == model.REVIEW_IN_PROGRESS {
				pipe.Set(ctx, appKey, review.Id, 0)
				pipe.SAdd(ctx, r.getNamespaceKey(OPEN_REVIEWS_KEY), review.Id)
			}
			return nil
		})
		return err
	}, appKey, key)
}

func (r *redisReviewStorage) GetReview(ctx context.Context, id string) (*model.CommitteeReview, error) {
	data, err := r.redisClient.Get(ctx, r.reviewKey(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "review", Id: id}
		}
		return nil, storageError(err)
	}
	review, err := r.reviewEncDec.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	ids, err := r.redisClient.LRange(ctx, r.getNamespaceKey(REVIEW_MEMBER_IDS_KEY, id), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if len(ids) > 0 {
		keys := make([]string, 0, len(ids))
		for _, userId := range ids {
			keys = append(keys, r.memberKey(id, userId))
		}
		values, err := r.redisClient.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, storageError(err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			m, err := r.memberEncDec.Decode([]byte(str))
			if err != nil {
				return nil, err
			}
			review.Members = append(review.Members, *m)
		}
	}
	comments, err := r.redisClient.LRange(ctx, r.getNamespaceKey(REVIEW_COMMENTS_KEY, id), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	decodedComments, err := util.DecodeAll[model.CommitteeComment](r.commentEncDec, comments)
	if err != nil {
		return nil, err
	}
	for _, c := range decodedComments {
		review.Comments = append(review.Comments, *c)
	}
	docs, err := r.redisClient.LRange(ctx, r.getNamespaceKey(REVIEW_DOCUMENTS_KEY, id), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	decodedDocs, err := util.DecodeAll[model.CommitteeDocument](r.documentEncDec, docs)
	if err != nil {
		return nil, err
	}
	for _, d := range decodedDocs {
		review.Documents = append(review.Documents, *d)
	}
	return review, nil
}

func (r *redisReviewStorage) UpdateReview(ctx context.Context, review *model.CommitteeReview, expectedVersion int64) error {
	key := r.reviewKey(review.Id)
	return r.watch(ctx, "review", review.Id, func(tx *rd.Tx) error {
		current, err := r.getHeader(ctx, tx, review.Id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return api.ConflictError{Entity: "review", Id: review.Id}
		}
		next := header(review)
		next.Version = expectedVersion + 1
		data, err := r.reviewEncDec.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if next.Status.IsClosed() {
				pipe.Del(ctx, r.getNamespaceKey(OPEN_REVIEW_APPLICATION_KEY, review.ApplicationId))
				pipe.SRem(ctx, r.getNamespaceKey(OPEN_REVIEWS_KEY), review.Id)
			}
			if next.AwaitingHandoff() {
				pipe.SAdd(ctx, r.getNamespaceKey(PENDING_HANDOFF_KEY), review.Id)
			} else {
				pipe.SRem(ctx, r.getNamespaceKey(PENDING_HANDOFF_KEY), review.Id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		review.Version = next.Version
		return nil
	}, key)
}

func (r *redisReviewStorage) getHeader(ctx context.Context, tx *rd.Tx, id string) (*model.CommitteeReview, error) {
	data, err := tx.Get(ctx, r.reviewKey(id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Entity: "review", Id: id}
		}
		return nil, err
	}
	return r.reviewEncDec.Decode([]byte(data))
}

func (r *redisReviewStorage) UpdateMember(ctx context.Context, reviewId string, member *model.CommitteeMember, expectedVersion int64, reviewVersion int64) error {
	key := r.memberKey(reviewId, member.UserId)
	keys := []string{key}
	if reviewVersion != persistence.AnyVersion {
		keys = append(keys, r.reviewKey(reviewId))
	}
	return r.watch(ctx, "committee member", member.UserId, func(tx *rd.Tx) error {
		if reviewVersion != persistence.AnyVersion {
			h, err := r.getHeader(ctx, tx, reviewId)
			if err != nil {
				return err
			}
			if h.Version != reviewVersion {
				return api.ConflictError{Entity: "review", Id: reviewId}
			}
		}
		data, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return api.NotFoundError{Entity: "committee member", Id: member.UserId}
			}
			return err
		}
		stored, err := r.memberEncDec.Decode([]byte(data))
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return api.ConflictError{Entity: "committee member", Id: member.UserId}
		}
		next := *member
		next.Version = expectedVersion + 1
		nd, err := r.memberEncDec.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, nd, 0)
			return nil
		})
		if err != nil {
			return err
		}
		member.Version = next.Version
		return nil
	}, keys...)
}

func (r *redisReviewStorage) AppendComment(ctx context.Context, reviewId string, comment model.CommitteeComment) error {
	data, err := r.commentEncDec.Encode(comment)
	if err != nil {
		return err
	}
	return r.appendToReview(ctx, reviewId, REVIEW_COMMENTS_KEY, data)
}

func (r *redisReviewStorage) AppendDocument(ctx context.Context, reviewId string, doc model.CommitteeDocument) error {
	data, err := r.documentEncDec.Encode(doc)
	if err != nil {
		return err
	}
	return r.appendToReview(ctx, reviewId, REVIEW_DOCUMENTS_KEY, data)
}

func (r *redisReviewStorage) appendToReview(ctx context.Context, reviewId string, list string, data []byte) error {
	exists, err := r.redisClient.Exists(ctx, r.reviewKey(reviewId)).Result()
	if err != nil {
		return storageError(err)
	}
	if exists == 0 {
		return api.NotFoundError{Entity: "review", Id: reviewId}
	}
	if err := r.redisClient.RPush(ctx, r.getNamespaceKey(list, reviewId), data).Err(); err != nil {
		logger.Error("error appending to review", zap.String("reviewId", reviewId), zap.String("list", list), zap.Error(err))
		return storageError(err)
	}
	return nil
}

func (r *redisReviewStorage) ListOpenReviews(ctx context.Context) ([]*model.CommitteeReview, error) {
	out, err := r.listSet(ctx, OPEN_REVIEWS_KEY)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(out[j].DeadlineAt) })
	return out, nil
}

func (r *redisReviewStorage) ListPendingHandoffs(ctx context.Context) ([]*model.CommitteeReview, error) {
	out, err := r.listSet(ctx, PENDING_HANDOFF_KEY)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DecidedAt == nil || out[j].DecidedAt == nil {
			return out[j].DecidedAt == nil && out[i].DecidedAt != nil
		}
		return out[i].DecidedAt.Before(*out[j].DecidedAt)
	})
	return out, nil
}

func (r *redisReviewStorage) listSet(ctx context.Context, set string) ([]*model.CommitteeReview, error) {
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(set)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]*model.CommitteeReview, 0, len(ids))
	for _, id := range ids {
		review, err := r.GetReview(ctx, id)
		if err != nil {
			if api.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, review)
	}
	return out, nil
}
