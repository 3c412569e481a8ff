package models

import "time"

// Athlete 运动员标识
type Athlete int

const (
	AthleteBlue Athlete = 1
	AthleteRed  Athlete = 2
)

// String 返回运动员名称
func (a Athlete) String() string {
	switch a {
	case AthleteBlue:
		return "blue"
	case AthleteRed:
		return "red"
	}
	return "unknown"
}

// HitSample 击打强度样本
type HitSample struct {
	Athlete   Athlete   `json:"athlete"`
	Intensity int       `json:"intensity"`
	SampledAt time.Time `json:"sampled_at"`
}
