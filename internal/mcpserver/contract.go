package mcpserver

// SchemaContract describes the persisted document and the Markdown cycle
// format that LLM consumers should follow when reading or importing data.
const SchemaContract = `# miniCycle Document Contract

All state lives in one JSON document stored under the ` + "`" + `miniCycleData` + "`" + ` key.

## Document (schema 2.5)

` + "```" + `json
{
  "schemaVersion": "2.5",
  "metadata": { "createdAt": 0, "lastModified": 0, "totalCyclesCreated": 0, "totalTasksCompleted": 0, "schemaVersion": "2.5" },
  "settings": { "darkMode": false, "autoSave": true },
  "data": { "cycles": { "<cycle id>": { "id": "<cycle id>", "title": "...", "tasks": [], "cycleCount": 0, "autoReset": true, "deleteCheckedTasks": false } } },
  "appState": { "activeCycleId": "<cycle id or empty>" },
  "userProgress": { "cyclesCompleted": 0, "rewardMilestones": [] },
  "customReminders": { "enabled": false }
}
` + "```" + `

## Rules

1. **Cycles are keyed by id.** The key under ` + "`" + `data.cycles` + "`" + ` equals the cycle's ` + "`" + `id` + "`" + `.
2. **activeCycleId** is empty or names an existing cycle.
3. **Task ids** are unique within a cycle. Task text is 1 to 500 characters.
4. **Due dates** use ` + "`" + `YYYY-MM-DD` + "`" + `.
5. **Timestamps** are Unix epoch milliseconds.
6. **rewardMilestones** holds no duplicates.

## Cycle modes

- ` + "`" + `autoReset: true` + "`" + `: completing every task increments ` + "`" + `cycleCount` + "`" + ` and unchecks all tasks.
- ` + "`" + `deleteCheckedTasks: true` + "`" + ` (to-do mode): completed tasks are removed instead, recurring tasks are kept.

## Markdown cycle format

Used by ` + "`" + `export_cycle` + "`" + ` and ` + "`" + `import_cycle` + "`" + `.

` + "```" + `markdown
---
title: Morning
cycleCount: 3
autoReset: true
deleteCheckedTasks: false
---

# Morning

- [x] Stretch
- [ ] Coffee !high due:2024-07-10
` + "```" + `

- Only checklist lines (` + "`" + `- [ ]` + "`" + `, ` + "`" + `- [x]` + "`" + `) become tasks; other lines are ignored.
- ` + "`" + `!high` + "`" + ` at the end marks a high-priority task.
- Imported cycles get fresh ids and become the active cycle.
`
