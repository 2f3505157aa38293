package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScheduleFile
//
// SCHEDULE_FILE 로 지정되는 YAML 문서.
// 큐로 위임되는(QueuedEntry) 스케줄만 선언적으로 정의할 수 있다.
// in-process handler 가 필요한 DirectEntry 는 코드에서 등록한다.
//
// 예:
//
//	timezone: Asia/Seoul
//	entries:
//	  - name: nightly-report
//	    cron: "0 3 * * *"
//	    task_type: ReportProcessor
//	  - name: hourly-sync
//	    minute: [0]
//	    weekday: [1, 2, 3, 4, 5]
//	    task_type: SyncProcessor
//	    fire_immediate: true
type ScheduleFile struct {
	Timezone string          `yaml:"timezone"`
	Entries  []ScheduledTask `yaml:"entries"`
}

// ScheduledTask 는 YAML 한 항목. Cron 이 있으면 개별 필드보다 우선한다.
// 개별 필드가 비어 있으면 wildcard 로 취급한다.
type ScheduledTask struct {
	Name        string `yaml:"name"`
	NamePattern string `yaml:"name_pattern"`
	Cron        string `yaml:"cron"`

	Minute     []int `yaml:"minute"`
	Hour       []int `yaml:"hour"`
	DayOfMonth []int `yaml:"day_of_month"`
	Month      []int `yaml:"month"`
	Weekday    []int `yaml:"weekday"`

	Timezone      string         `yaml:"timezone"`
	TaskType      string         `yaml:"task_type"`
	FireImmediate bool           `yaml:"fire_immediate"`
	Data          map[string]any `yaml:"data"`
	Metadata      map[string]any `yaml:"metadata"`
}

// LoadScheduleFile 는 YAML 스케줄 파일을 읽고 최소한의 필수값을 검사한다.
// timezone 해석과 cron 문자열 파싱은 schedule 패키지가 담당한다.
func LoadScheduleFile(path string) (*ScheduleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file %s: %w", path, err)
	}
	var f ScheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", path, err)
	}
	for i, e := range f.Entries {
		if e.TaskType == "" {
			return nil, Errorf(fmt.Sprintf("entries[%d].task_type", i), "required")
		}
	}
	return &f, nil
}
