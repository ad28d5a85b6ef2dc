package stubserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/monitoring"
	"github.com/mezonai/mmn-plasma/transaction"
)

const RateLimitExceeded = "Rate limit exceeded"

func (s *Server) reject(c *gin.Context, status int, reason monitoring.TxRejectedReason, message string) {
	s.rejected.Add(1)
	monitoring.RecordRejectedTx(reason)
	monitoring.RecordOperatorTx("rejected")
	logx.Debug("STUBSERVER", fmt.Sprintf("rejected transfer (%s): %s", reason, message))
	c.JSON(status, client.SubmitResponse{Accepted: false, Error: message})
}

func (s *Server) SubmitTx(c *gin.Context) {
	if n := s.outstanding.Add(1); n > int64(s.cfg.MaxOutstanding) {
		s.outstanding.Add(-1)
		s.reject(c, http.StatusTooManyRequests, monitoring.TxTooManyPending, RateLimitExceeded)
		return
	}
	defer s.outstanding.Add(-1)

	var req client.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, http.StatusBadRequest, monitoring.TxInvalidTransfer, "invalid request: "+err.Error())
		return
	}
	tx, err := client.FromSubmitRequest(&req, s.cfg.Layout)
	if err != nil {
		s.reject(c, http.StatusBadRequest, monitoring.TxInvalidTransfer, err.Error())
		return
	}
	if tx.From == tx.To {
		s.reject(c, http.StatusOK, monitoring.TxInvalidTransfer, "sender and recipient must differ")
		return
	}
	if tx.Amount.IsZero() {
		s.reject(c, http.StatusOK, monitoring.TxInvalidTransfer, "amount must not be zero")
		return
	}

	sender, err := s.book.GetAccount(tx.From)
	if err != nil {
		s.reject(c, http.StatusOK, monitoring.TxSenderNotExist, fmt.Sprintf("account %d does not exist", tx.From))
		return
	}
	if err := tx.Verify(s.cfg.Layout, sender.PublicKey); err != nil {
		s.reject(c, http.StatusOK, monitoring.TxInvalidSignature, "invalid signature")
		return
	}
	if err := s.waitForNonce(c.Request.Context(), tx); err != nil {
		s.reject(c, http.StatusOK, monitoring.TxInvalidNonce, err.Error())
		return
	}

	// balances move by the packed values, which is what was signed
	amt, fee, err := s.cfg.Layout.Pack(tx)
	if err != nil {
		s.reject(c, http.StatusOK, monitoring.TxInvalidTransfer, err.Error())
		return
	}
	applied := tx.Clone()
	applied.Amount = amt.Decode()
	applied.Fee = fee.Decode()
	if err := s.book.ApplyTransfer(applied); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			s.reject(c, http.StatusOK, monitoring.TxInsufficientBalance, "insufficient balance")
		case errors.Is(err, ledger.ErrInvalidNonce):
			s.reject(c, http.StatusOK, monitoring.TxInvalidNonce, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			s.reject(c, http.StatusOK, monitoring.TxSenderNotExist, err.Error())
		default:
			s.reject(c, http.StatusOK, monitoring.TxRejectedUnknown, err.Error())
		}
		return
	}
	s.notify()
	s.processed.Add(1)
	monitoring.RecordOperatorTx("accepted")
	c.JSON(http.StatusOK, client.SubmitResponse{Accepted: true, Confirmation: uuid.NewString()})
}

// waitForNonce returns once tx carries the sender's next nonce. A future
// nonce waits up to NonceOrderTimeout for the transfers before it.
func (s *Server) waitForNonce(ctx context.Context, tx *transaction.Transfer) error {
	deadline := time.NewTimer(s.cfg.NonceOrderTimeout)
	defer deadline.Stop()
	for {
		changed := s.changedChan()
		acc, err := s.book.GetAccount(tx.From)
		if err != nil {
			return err
		}
		if tx.Nonce == acc.Nonce {
			return nil
		}
		if tx.Nonce < acc.Nonce {
			return errors.Errorf("nonce %d already used, next is %d", tx.Nonce, acc.Nonce)
		}
		select {
		case <-changed:
		case <-deadline.C:
			return errors.Errorf("nonce %d out of order, next is %d", tx.Nonce, acc.Nonce)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, client.ErrorResponse{Error: "invalid account id"})
		return
	}
	acc, err := s.book.GetAccount(uint32(id))
	if err != nil {
		c.JSON(http.StatusNotFound, client.ErrorResponse{Error: err.Error()})
		return
	}
	x, y := acc.PublicKey.Hex()
	c.JSON(http.StatusOK, client.Account{
		ID:         acc.ID,
		Address:    acc.Address.Hex(),
		Nonce:      acc.Nonce,
		Balance:    acc.Balance.Dec(),
		PublicKeyX: x,
		PublicKeyY: y,
	})
}

func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, client.Status{
		Accounts:    s.book.AccountCount(),
		Outstanding: int(s.outstanding.Load()),
		Processed:   s.processed.Load(),
		Rejected:    s.rejected.Load(),
		Fees:        s.book.FeesCollected().Dec(),
	})
}

func (s *Server) DepositReq(c *gin.Context) {
	var req client.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, client.DepositResponse{Error: "invalid request: " + err.Error()})
		return
	}
	addr, err := ledger.ParseAddress(req.Account)
	if err != nil {
		c.JSON(http.StatusBadRequest, client.DepositResponse{Error: err.Error()})
		return
	}
	pub, err := keys.ParsePublicKey(req.PublicKey[0], req.PublicKey[1])
	if err != nil {
		c.JSON(http.StatusBadRequest, client.DepositResponse{Error: err.Error()})
		return
	}
	value := new(uint256.Int)
	if req.DepositAmount != "" {
		if value, err = uint256.FromDecimal(req.DepositAmount); err != nil {
			c.JSON(http.StatusBadRequest, client.DepositResponse{Error: "invalid deposit amount"})
			return
		}
	}
	receipt, err := s.book.Deposit(c.Request.Context(), ledger.Deposit{Address: addr, PublicKey: pub, Amount: value})
	if err != nil {
		c.JSON(http.StatusBadRequest, client.DepositResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, client.DepositResponse{
		AccountID: receipt.AccountID,
		Confirmed: receipt.Confirmed,
		Reference: receipt.Reference,
	})
}

func (s *Server) GetAddress(c *gin.Context) {
	addr, err := ledger.ParseAddress(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, client.ErrorResponse{Error: err.Error()})
		return
	}
	id, err := s.book.AccountID(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusNotFound, client.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, client.AddressResponse{AccountID: id})
}
