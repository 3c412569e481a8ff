package services

import (
	"testing"
	"time"

	"pss-service/models"
)

// feed 按时间顺序把帧喂给检测器，返回最后一个事件的覆盖标记
func feed(t *testing.T, d *OverrideDetector, c *Classifier, frames []string, times []time.Time) *models.OverrideFlag {
	t.Helper()
	if len(frames) != len(times) {
		t.Fatal("frames and times must have equal length")
	}
	var flag *models.OverrideFlag
	for i, frame := range frames {
		ev := classify(t, c, frame, times[i], uint64(i+1))
		flag = d.Check(ev)
	}
	return flag
}

func TestRoundChangeWhileClockStopped(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "clk;01:30;stop", "rnd;2"},
		[]time.Time{base, base.Add(30 * time.Second), base.Add(31 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideRound {
		t.Fatalf("Expected round override, got %v", flag)
	}
}

func TestRoundChangeAfterBreakEndIsNormal(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	// 第0回合0:00的休息结束紧邻回合变更，是正常的自动切换
	flag := feed(t, d, c,
		[]string{"brk;0;00:00;end", "rnd;1"},
		[]time.Time{base, base.Add(100 * time.Millisecond)})

	if flag != nil {
		t.Errorf("Round change after break end must not flag, got %v", flag)
	}
}

func TestRoundBurst(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"brk;0;00:00;end", "rnd;1", "clk;02:00;start", "rnd;2"},
		[]time.Time{base, base.Add(time.Second), base.Add(2 * time.Second), base.Add(3 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideRound {
		t.Fatalf("Two round changes within 5s must flag, got %v", flag)
	}
}

func TestScoreWhileClockStopped(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c, []string{"pt1;1"}, []time.Time{base})
	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("Score with stopped clock must flag, got %v", flag)
	}
}

func TestScoreInsideCorrectionWindow(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "clk;01:58;corr", "pt1;1"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(12 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("Score inside correction window must flag, got %v", flag)
	}
}

func TestScoreJump(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "pt1;1", "pt1;5"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(20 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("4-point jump must flag, got %v", flag)
	}
}

func TestScoreBurst(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "pt1;1", "pt1;2"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(10*time.Second + 500*time.Millisecond)})

	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("Two score changes within 2s must flag, got %v", flag)
	}
}

func TestNormalScoringNotFlagged(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "pt1;1", "pt1;2"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(20 * time.Second)})

	if flag != nil {
		t.Errorf("Paced single-point scoring must not flag, got %v", flag)
	}
}

func TestClockCorrectionIsTimeOverride(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)

	flag := feed(t, d, c, []string{"clk;01:15;corr"}, []time.Time{time.Now()})
	if flag == nil || flag.Kind != models.OverrideTime {
		t.Fatalf("Clock correction must flag as time override, got %v", flag)
	}
}

func TestWarningWhileClockStopped(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)

	flag := feed(t, d, c, []string{"wng;1;0"}, []time.Time{time.Now()})
	if flag == nil || flag.Kind != models.OverrideWarning {
		t.Fatalf("Warning with stopped clock must flag, got %v", flag)
	}
}

func TestWarningBurst(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "wng;1;0", "wng;2;0"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(11 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideWarning {
		t.Fatalf("Two warning changes within 3s must flag, got %v", flag)
	}
}

func TestRoundChangeResetsScoreBaseline(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	// 正常回合切换清零比分基线：下一回合的首个比分不构成跳变
	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "pt1;8", "rnd;2", "pt1;1"},
		[]time.Time{base, base.Add(10 * time.Second), base.Add(120 * time.Second), base.Add(130 * time.Second)})

	if flag != nil {
		t.Errorf("First score after normal round change must not flag, got %v", flag)
	}
}

func TestMatchLoadResetsClockState(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	// rdy 复位计时状态，新场次停表下的比分仍判覆盖
	flag := feed(t, d, c,
		[]string{"clk;02:00;start", "rdy;M-300", "pt1;1"},
		[]time.Time{base, base.Add(200 * time.Second), base.Add(210 * time.Second)})

	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("Score before clock start in new match must flag, got %v", flag)
	}
}

func TestOverriddenRoundKeepsBaseline(t *testing.T) {
	d := NewOverrideDetector(nil)
	c := newTestClassifier(nil)
	base := time.Now()

	// 被判覆盖的回合变更不清零比分基线
	events := []string{"clk;02:00;start", "pt1;8", "clk;01:00;stop", "rnd;2", "clk;01:00;start", "pt1;1"}
	times := []time.Time{
		base,
		base.Add(10 * time.Second),
		base.Add(20 * time.Second),
		base.Add(30 * time.Second), // 停表回合变更 → 覆盖
		base.Add(40 * time.Second),
		base.Add(50 * time.Second), // 8 → 1 跳变7分
	}
	flag := feed(t, d, c, events, times)

	if flag == nil || flag.Kind != models.OverrideScore {
		t.Fatalf("Jump against retained baseline must flag, got %v", flag)
	}
}
