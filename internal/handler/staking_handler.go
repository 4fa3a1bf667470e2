package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"staking-core/internal/event"
	"staking-core/internal/handler/request"
	"staking-core/internal/handler/response"
	"staking-core/internal/service/claim"
	"staking-core/internal/service/observer"
	"staking-core/internal/service/validation"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
	"staking-core/pkg/validator"
)

// SnapshotReader *observer.FactObserver 实现它
type SnapshotReader interface {
	Latest(key staking.FactKey) (observer.Snapshot, bool)
	Snapshots(key staking.AccountKey) []observer.Snapshot
}

// FactIngester *observer.FactObserver 实现它
type FactIngester interface {
	Ingest(ctx context.Context, u staking.Update) error
}

// ClaimService *claim.Service 实现它
type ClaimService interface {
	ClaimRewards(ctx context.Context, key staking.FactKey, strategy staking.ClaimStrategy, hooks validation.Hooks) (claim.Result, error)
	Redeem(ctx context.Context, key staking.FactKey, hooks validation.Hooks) (claim.Result, error)
	BondExtra(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (claim.Result, error)
	Unbond(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (claim.Result, error)
}

type StakingHandler struct {
	snapshots SnapshotReader
	facts     FactIngester
	claims    ClaimService
	log       *zap.Logger
}

func NewStakingHandler(snapshots SnapshotReader, facts FactIngester, claims ClaimService) *StakingHandler {
	return &StakingHandler{
		snapshots: snapshots,
		facts:     facts,
		claims:    claims,
		log:       logger.Named("handler.staking"),
	}
}

// SubmissionView 提交成功后的返回体
type SubmissionView struct {
	SubmissionID string          `json:"submission_id"`
	Operation    string          `json:"operation"`
	Call         string          `json:"call"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	Warnings     []string        `json:"warnings,omitempty"`
}

func bindKey(c *gin.Context) (staking.FactKey, bool) {
	var uri request.StakingURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
		return staking.FactKey{}, false
	}
	program, err := staking.ParseProgram(uri.Program)
	if err != nil {
		response.Error(c, errno.Wrap(errno.ErrBind, err))
		return staking.FactKey{}, false
	}
	return staking.FactKey{
		AccountKey: staking.AccountKey{Account: uri.Account, Chain: uri.Chain},
		Program:    program,
	}, true
}

func hooks(accept bool) validation.Hooks {
	return validation.Hooks{
		Confirmer: validation.ConfirmFunc(func(ctx context.Context, v *validation.Violation) bool {
			return accept
		}),
	}
}

// GetSnapshot 某个质押方式最近一次的状态、提醒和可用操作
// @Router /api/v1/staking/{chain}/{program}/{account} [get]
func (h *StakingHandler) GetSnapshot(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	snap, ok := h.snapshots.Latest(key)
	if !ok {
		response.Error(c, errno.Wrapf(errno.ErrNotFound, "no staking state for %s", key))
		return
	}
	response.Success(c, snap)
}

// ListSnapshots 账户在一条链上所有质押方式的快照
// @Router /api/v1/accounts/{chain}/{account} [get]
func (h *StakingHandler) ListSnapshots(c *gin.Context) {
	var uri request.AccountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
		return
	}
	snaps := h.snapshots.Snapshots(staking.AccountKey{Account: uri.Account, Chain: uri.Chain})
	if snaps == nil {
		snaps = []observer.Snapshot{}
	}
	response.Success(c, snaps)
}

// IngestFact 手动注入事实 (运维补数据 / 联调)
// @Router /api/v1/facts [post]
func (h *StakingHandler) IngestFact(c *gin.Context) {
	var req request.FactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
		return
	}
	u, err := observer.DecodeFact(event.FactEvent{
		Account:  req.Account,
		Chain:    req.Chain,
		Program:  req.Program,
		Seq:      req.Seq,
		Kind:     req.Kind,
		Encoding: req.Encoding,
		Payload:  req.Payload,
		Data:     req.Data,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.facts.Ingest(c.Request.Context(), u); err != nil {
		h.log.Warn("ingest failed", zap.String("key", u.Key.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"key": u.Key.String(), "kind": req.Kind})
}

// ClaimRewards 领取奖励
// @Router /api/v1/staking/{chain}/{program}/{account}/claim [post]
func (h *StakingHandler) ClaimRewards(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	var req request.ClaimRewardsRequest
	// 空 body 视为默认值
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
			return
		}
	}
	strategy := staking.StrategyRestake
	if req.Strategy == staking.StrategyFree.String() {
		strategy = staking.StrategyFree
	}
	res, err := h.claims.ClaimRewards(c.Request.Context(), key, strategy, hooks(req.AcceptWarnings))
	h.respond(c, key, res, err)
}

// Redeem 赎回到期的解绑
// @Router /api/v1/staking/{chain}/{program}/{account}/redeem [post]
func (h *StakingHandler) Redeem(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	var req request.RedeemRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
			return
		}
	}
	res, err := h.claims.Redeem(c.Request.Context(), key, hooks(req.AcceptWarnings))
	h.respond(c, key, res, err)
}

// BondExtra 追加质押
// @Router /api/v1/staking/{chain}/{program}/{account}/bond_extra [post]
func (h *StakingHandler) BondExtra(c *gin.Context) {
	key, req, ok := bindAmount(c)
	if !ok {
		return
	}
	res, err := h.claims.BondExtra(c.Request.Context(), key, req.Amount, req.Collator, hooks(req.AcceptWarnings))
	h.respond(c, key, res, err)
}

// Unbond 解绑
// @Router /api/v1/staking/{chain}/{program}/{account}/unbond [post]
func (h *StakingHandler) Unbond(c *gin.Context) {
	key, req, ok := bindAmount(c)
	if !ok {
		return
	}
	res, err := h.claims.Unbond(c.Request.Context(), key, req.Amount, req.Collator, hooks(req.AcceptWarnings))
	h.respond(c, key, res, err)
}

func bindAmount(c *gin.Context) (staking.FactKey, request.AmountRequest, bool) {
	var req request.AmountRequest
	key, ok := bindKey(c)
	if !ok {
		return key, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.Wrapf(errno.ErrBind, "%s", validator.GetErrorMsg(err)))
		return key, req, false
	}
	if !req.Amount.IsPositive() {
		response.Error(c, errno.Wrapf(errno.ErrBind, "amount must be positive"))
		return key, req, false
	}
	return key, req, true
}

func (h *StakingHandler) respond(c *gin.Context, key staking.FactKey, res claim.Result, err error) {
	if err != nil {
		h.log.Info("operation not submitted", zap.String("key", key.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	if res.Handle == nil || res.Request == nil {
		response.Error(c, errno.InternalServerError)
		return
	}
	view := SubmissionView{
		SubmissionID: res.Handle.ID(),
		Operation:    res.Request.Operation().String(),
		Amount:       res.Request.Amount(),
		Fee:          res.Quote.Amount,
	}
	for _, call := range res.Request.Calls() {
		if view.Call != "" {
			view.Call += "; "
		}
		view.Call += call.String()
	}
	for _, w := range res.Validation.Overridden {
		view.Warnings = append(view.Warnings, w.Error())
	}
	response.Success(c, view)
}
