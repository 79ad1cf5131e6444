package sqlinline

const QInsertJob = `--sql 6c7415a2-7402-4de7-a27e-83dde96cf3d7
insert into jobs (id, user_id, idempotency_key, model_id, input_json, price, status, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::jsonb, $6::text::numeric, $7::text, now(), now());
`

const QAttachJobTask = `--sql c2e238ab-39ef-447b-8363-cabe9aedbe69
update jobs
set provider_task_id = $2::text,
    updated_at = now()
where id = $1::uuid
  and (provider_task_id is null or provider_task_id = $2::text);
`

// QUpdateJobStatus moves a job only from one of the allowed predecessor
// statuses passed in $6.
const QUpdateJobStatus = `--sql 0e21e1d8-8eeb-4f26-9ca7-08df2bd2381b
update jobs
set status = $2::text,
    result_json = coalesce($3::jsonb, result_json),
    fail_code = coalesce(nullif($4::text, ''), fail_code),
    error_message = coalesce(nullif($5::text, ''), error_message),
    updated_at = now()
where id = $1::uuid
  and status = any($6::text[]);
`

const QSelectJobStatus = `--sql 21ef5715-0929-46b6-9e64-a794f328afbb
select status
from jobs
where id = $1::uuid;
`

const QMarkJobReplied = `--sql eb26352d-70a7-4783-b89d-b5d53962b723
update jobs
set replied = true,
    reply_payload = $2::jsonb,
    updated_at = now()
where id = $1::uuid
  and replied = false;
`

const QSelectJob = `--sql 8352da7e-3fa9-48c1-acfa-56871120f2ae
select id::text, user_id, idempotency_key, model_id, input_json, price::text, status,
       coalesce(provider_task_id, ''), result_json, coalesce(fail_code, ''), coalesce(error_message, ''),
       replied, created_at, updated_at
from jobs
where id = $1::uuid;
`

const QListUnsettledJobs = `--sql b0cacc96-b6ce-4e4e-842d-0b0853d71988
select id::text, user_id, idempotency_key, model_id, input_json, price::text, status,
       coalesce(provider_task_id, ''), result_json, coalesce(fail_code, ''), coalesce(error_message, ''),
       replied, created_at, updated_at
from jobs
where status in ('queued', 'running')
  and updated_at < $1::timestamptz
order by created_at asc
limit 500;
`
