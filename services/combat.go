// services/combat.go
package services

import (
	"crypto/rand"
	"math/big"

	"fight-arena/models"
)

// Damage table. Strikes roll base±variance, guards answer a matching strike
// with a fixed counter.
type damageSpec struct {
	Base     int
	Variance int
}

var moveDamage = map[models.Move]damageSpec{
	models.MoveHighStrike: {Base: 26, Variance: 4},
	models.MoveMidStrike:  {Base: 20, Variance: 3},
	models.MoveLowStrike:  {Base: 14, Variance: 2},
	models.MoveCatch:      {Base: 30, Variance: 3},
	models.MoveSpecial:    {Base: 40, Variance: 5},
}

const (
	GuardCounterDamage = 8
	SpecialMeterCost   = models.MaxMeter
	MeterPerTurn       = 20
)

// DamageRoller produces a roll in [base-variance, base+variance].
type DamageRoller interface {
	Roll(base, variance int) int
}

// CryptoRoller draws from crypto/rand so a client cannot predict or replay rolls.
type CryptoRoller struct{}

func (CryptoRoller) Roll(base, variance int) int {
	if variance <= 0 {
		return base
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(2*variance+1)))
	if err != nil {
		// crypto/rand only fails if the OS source is broken
		panic("combat: crypto/rand unavailable: " + err.Error())
	}
	return base - variance + int(n.Int64())
}

// Outcome is the result of resolving one pair of moves.
type Outcome struct {
	DamageToA       int                 `json:"damage_to_a"`
	DamageToB       int                 `json:"damage_to_b"`
	Result          models.CombatResult `json:"result"`
	MeterSpentA     int                 `json:"meter_spent_a"`
	MeterSpentB     int                 `json:"meter_spent_b"`
	SpecialFizzledA bool                `json:"special_fizzled_a,omitempty"`
	SpecialFizzledB bool                `json:"special_fizzled_b,omitempty"`
}

func rollDamage(r DamageRoller, m models.Move) int {
	dmg := moveDamage[m]
	d := r.Roll(dmg.Base, dmg.Variance)
	if d < 1 {
		d = 1
	}
	return d
}

// exchange is what one attacker does to one defender.
type exchange struct {
	damage  int  // to the defender
	counter int  // back to the attacker
	blocked bool // defender's guard stopped the strike
	dodged  bool // defender's dodge evaded the attack
}

func attack(r DamageRoller, atk, def models.Move) exchange {
	switch {
	case atk.IsStrike():
		if def.Blocks(atk) {
			return exchange{counter: GuardCounterDamage, blocked: true}
		}
		if def == models.MoveDodge {
			return exchange{dodged: true}
		}
		return exchange{damage: rollDamage(r, atk)}
	case atk == models.MoveCatch:
		if def == models.MoveDodge {
			return exchange{damage: rollDamage(r, atk)}
		}
		return exchange{}
	case atk == models.MoveSpecial:
		if def == models.MoveDodge {
			return exchange{dodged: true}
		}
		return exchange{damage: rollDamage(r, atk)}
	}
	return exchange{}
}

// Resolve computes one turn of combat. meterA/meterB are the meters after this
// turn's accrual. An unaffordable SPECIAL fizzles into no move at all.
func Resolve(moveA, moveB models.Move, meterA, meterB int, r DamageRoller) Outcome {
	if r == nil {
		r = CryptoRoller{}
	}
	var out Outcome

	effA, effB := moveA, moveB
	if moveA == models.MoveSpecial {
		if meterA >= SpecialMeterCost {
			out.MeterSpentA = SpecialMeterCost
		} else {
			effA = ""
			out.SpecialFizzledA = true
		}
	}
	if moveB == models.MoveSpecial {
		if meterB >= SpecialMeterCost {
			out.MeterSpentB = SpecialMeterCost
		} else {
			effB = ""
			out.SpecialFizzledB = true
		}
	}

	ab := attack(r, effA, effB) // A attacking B
	ba := attack(r, effB, effA) // B attacking A

	out.DamageToB = ab.damage + ba.counter
	out.DamageToA = ba.damage + ab.counter

	switch {
	case ba.blocked:
		out.Result = models.ResultABlocked
	case ab.blocked:
		out.Result = models.ResultBBlocked
	case out.DamageToA > 0 && out.DamageToB > 0:
		out.Result = models.ResultTrade
	case out.DamageToB > 0:
		out.Result = models.ResultAHit
	case out.DamageToA > 0:
		out.Result = models.ResultBHit
	case ba.dodged:
		out.Result = models.ResultADodged
	case ab.dodged:
		out.Result = models.ResultBDodged
	default:
		out.Result = models.ResultBothDefend
	}
	return out
}

// AccrueMeter adds the per-turn meter gain, capped at the maximum.
func AccrueMeter(meter int) int {
	meter += MeterPerTurn
	if meter > models.MaxMeter {
		meter = models.MaxMeter
	}
	return meter
}

// RandomSafeMove draws uniformly from the safe pool.
func RandomSafeMove() (models.Move, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(models.SafeMoves))))
	if err != nil {
		return "", err
	}
	return models.SafeMoves[n.Int64()], nil
}
